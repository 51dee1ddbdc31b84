package main

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/magictractor/webcache/pkg/errs"
	"github.com/magictractor/webcache/pkg/expiry"
)

type Config struct {
	Resources []ConfigResource `yaml:"resources"`
}

type ConfigResource struct {
	// Exactly one of URL and File identifies the origin.
	URL        string        `yaml:"url"`
	File       string        `yaml:"file"`
	PrettyJSON bool          `yaml:"prettyJson"`
	Expiry     *ConfigExpiry `yaml:"expiry"`
}

// ConfigExpiry selects one expiry policy; setting more than one clause is an
// error. File resources need no clause, they expire with the file itself.
type ConfigExpiry struct {
	Always      bool             `yaml:"always"`
	OnHours     []int            `yaml:"onHours"`
	Daily       *ConfigClock     `yaml:"daily"`
	DayOfWeek   *ConfigDayOfWeek `yaml:"dayOfWeek"`
	WaitDays    int              `yaml:"waitDays"`
	WaitHours   int              `yaml:"waitHours"`
	WaitMinutes int              `yaml:"waitMinutes"`
}

type ConfigClock struct {
	Hour   int `yaml:"hour"`
	Minute int `yaml:"minute"`
}

type ConfigDayOfWeek struct {
	Day    string `yaml:"day"`
	Hour   int    `yaml:"hour"`
	Minute int    `yaml:"minute"`
}

func getConfig(filename string) (Config, error) {
	var config Config
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	err = yaml.Unmarshal(configBytes, &config)
	return config, err
}

func (e *ConfigExpiry) policy() (expiry.Policy, error) {
	clauses := 0
	var policy expiry.Policy
	var err error

	if e.Always {
		clauses++
		policy = expiry.Always()
	}
	if len(e.OnHours) > 0 {
		clauses++
		policy = expiry.OnHours(e.OnHours...)
	}
	if e.Daily != nil {
		clauses++
		policy = expiry.Daily(e.Daily.Hour, e.Daily.Minute)
	}
	if e.DayOfWeek != nil {
		clauses++
		day, dayErr := parseWeekday(e.DayOfWeek.Day)
		if dayErr != nil {
			return expiry.Policy{}, dayErr
		}
		policy = expiry.DayOfWeek(day, e.DayOfWeek.Hour, e.DayOfWeek.Minute)
	}
	if e.WaitDays > 0 {
		clauses++
		policy, err = expiry.WaitDays(e.WaitDays)
	}
	if e.WaitHours > 0 {
		clauses++
		policy, err = expiry.WaitHours(e.WaitHours)
	}
	if e.WaitMinutes > 0 {
		clauses++
		policy, err = expiry.WaitMinutes(e.WaitMinutes)
	}
	if err != nil {
		return expiry.Policy{}, err
	}

	if clauses != 1 {
		return expiry.Policy{}, errs.Usagef("expiry must have exactly one clause, got %d", clauses)
	}
	return policy, nil
}

func parseWeekday(name string) (time.Weekday, error) {
	for day := time.Sunday; day <= time.Saturday; day++ {
		if strings.EqualFold(day.String(), name) {
			return day, nil
		}
	}
	return 0, errs.Usagef("unknown day of week %q", name)
}

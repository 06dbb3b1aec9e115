package store

import (
	"time"

	"github.com/sweeney/reflow-controller/internal/logic"
)

// profileRecord is one named profile. Durations are stored in milliseconds.
type profileRecord struct {
	Name         string  `gorm:"primaryKey;type:varchar(64)"`
	PreheatTemp  float64 `gorm:"not null"`
	PreheatMs    int64   `gorm:"not null"`
	SoakTemp     float64 `gorm:"not null"`
	SoakMs       int64   `gorm:"not null"`
	ReflowTemp   float64 `gorm:"not null"`
	ReflowMs     int64   `gorm:"not null"`
	CooldownTemp float64 `gorm:"not null"`
	CooldownMs   int64   `gorm:"not null"`
	UpdatedAt    time.Time
}

func (profileRecord) TableName() string { return "profiles" }

// setting is one key/value row.
type setting struct {
	Key   string `gorm:"primaryKey;type:varchar(64)"`
	Value string `gorm:"type:varchar(255);not null"`
}

func (setting) TableName() string { return "settings" }

// Setting keys.
const (
	keyActiveProfile = "active_profile"
	keyKp            = "kp"
	keyKi            = "ki"
	keyKd            = "kd"
)

func toRecord(p logic.Profile) profileRecord {
	return profileRecord{
		Name:         p.Name,
		PreheatTemp:  p.PreheatTemp,
		PreheatMs:    p.PreheatDuration.Milliseconds(),
		SoakTemp:     p.SoakTemp,
		SoakMs:       p.SoakDuration.Milliseconds(),
		ReflowTemp:   p.ReflowTemp,
		ReflowMs:     p.ReflowDuration.Milliseconds(),
		CooldownTemp: p.CooldownTemp,
		CooldownMs:   p.CooldownDuration.Milliseconds(),
	}
}

func (r profileRecord) profile() logic.Profile {
	ms := logic.DurationMs
	return logic.Profile{
		Name:             r.Name,
		PreheatTemp:      r.PreheatTemp,
		PreheatDuration:  ms(r.PreheatMs),
		SoakTemp:         r.SoakTemp,
		SoakDuration:     ms(r.SoakMs),
		ReflowTemp:       r.ReflowTemp,
		ReflowDuration:   ms(r.ReflowMs),
		CooldownTemp:     r.CooldownTemp,
		CooldownDuration: ms(r.CooldownMs),
	}
}

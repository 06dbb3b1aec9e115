// Package config loads the daemon settings from a YAML file and REFLOW_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/sweeney/reflow-controller/internal/adc"
	"github.com/sweeney/reflow-controller/internal/gpio"
	"github.com/sweeney/reflow-controller/internal/logic"
	"github.com/sweeney/reflow-controller/internal/mqtt"
	"github.com/sweeney/reflow-controller/internal/oven"
)

// EnvPrefix prefixes every environment override, e.g. REFLOW_MQTT_BROKER.
const EnvPrefix = "REFLOW"

type Config struct {
	Loop    LoopConfig    `mapstructure:"loop"`
	Sensor  SensorConfig  `mapstructure:"sensor"`
	Control ControlConfig `mapstructure:"control"`
	PWM     PWMConfig     `mapstructure:"pwm"`
	Safety  SafetyConfig  `mapstructure:"safety"`
	GPIO    GPIOConfig    `mapstructure:"gpio"`
	ADC     ADCConfig     `mapstructure:"adc"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Store   StoreConfig   `mapstructure:"store"`
	Log     LogConfig     `mapstructure:"log"`
}

type LoopConfig struct {
	Tick time.Duration `mapstructure:"tick"`
}

type SensorConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	Samples           int           `mapstructure:"samples"`
	SeriesResistance  float64       `mapstructure:"series_ohms"`
	NominalResistance float64       `mapstructure:"nominal_ohms"`
	NominalTemp       float64       `mapstructure:"nominal_temp_c"`
	Beta              float64       `mapstructure:"beta"`
	ADCMax            float64       `mapstructure:"adc_max"`
	FloorC            float64       `mapstructure:"floor_c"`
}

// ControlConfig holds the PID settings. The gains seed the store on first
// boot; afterwards the stored gains win.
type ControlConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	IntegralLimit float64       `mapstructure:"integral_limit"`
	Bias          float64       `mapstructure:"bias"`
	Kp            float64       `mapstructure:"kp"`
	Ki            float64       `mapstructure:"ki"`
	Kd            float64       `mapstructure:"kd"`
}

type PWMConfig struct {
	Period time.Duration `mapstructure:"period"`
	Steps  int           `mapstructure:"steps"`
}

type SafetyConfig struct {
	MaxTempC float64 `mapstructure:"max_temp_c"` // 0 disables the cutout
}

type GPIOConfig struct {
	RelayPin int `mapstructure:"relay_pin"`
	StartPin int `mapstructure:"start_pin"`
	StopPin  int `mapstructure:"stop_pin"`
}

type ADCConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

type MQTTConfig struct {
	Broker     string        `mapstructure:"broker"` // empty disables publishing
	ClientID   string        `mapstructure:"client_id"`
	Heartbeat  time.Duration `mapstructure:"heartbeat"`
	BufferSize int           `mapstructure:"buffer_size"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the web server
}

type StoreConfig struct {
	Path         string `mapstructure:"path"`
	ProfilesFile string `mapstructure:"profiles_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	def := oven.DefaultConfig()

	v.SetDefault("loop.tick", 5*time.Millisecond)

	v.SetDefault("sensor.interval", def.SampleInterval)
	v.SetDefault("sensor.samples", def.Samples)
	v.SetDefault("sensor.series_ohms", def.Thermistor.SeriesResistance)
	v.SetDefault("sensor.nominal_ohms", def.Thermistor.NominalResistance)
	v.SetDefault("sensor.nominal_temp_c", def.Thermistor.NominalTemp)
	v.SetDefault("sensor.beta", def.Thermistor.Beta)
	v.SetDefault("sensor.adc_max", def.Thermistor.ADCMax)
	v.SetDefault("sensor.floor_c", def.Thermistor.FloorC)

	v.SetDefault("control.interval", def.PID.Interval)
	v.SetDefault("control.integral_limit", def.PID.IntegralLimit)
	v.SetDefault("control.bias", def.PID.Bias)
	v.SetDefault("control.kp", def.PID.Kp)
	v.SetDefault("control.ki", def.PID.Ki)
	v.SetDefault("control.kd", def.PID.Kd)

	v.SetDefault("pwm.period", def.PWM.Period)
	v.SetDefault("pwm.steps", def.PWM.Steps)

	v.SetDefault("safety.max_temp_c", 0.0)

	v.SetDefault("gpio.relay_pin", gpio.PinRelay)
	v.SetDefault("gpio.start_pin", gpio.PinStart)
	v.SetDefault("gpio.stop_pin", gpio.PinStop)

	v.SetDefault("adc.port", "/dev/ttyAMA0")
	v.SetDefault("adc.baud", adc.DefaultBaudRate)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "reflow-controller")
	v.SetDefault("mqtt.heartbeat", 15*time.Minute)
	v.SetDefault("mqtt.buffer_size", mqtt.DefaultBufferSize)

	v.SetDefault("http.addr", ":80")

	v.SetDefault("store.path", "/var/lib/reflow-controller/reflow.db")
	v.SetDefault("store.profiles_file", "")

	v.SetDefault("log.level", "info")
}

// Default returns the built-in settings.
func Default() *Config {
	cfg, err := load(viper.New())
	if err != nil {
		// Defaults alone always decode.
		panic(err)
	}
	return cfg
}

// Load reads filename (if non-empty) on top of the defaults and applies
// environment overrides. Without a filename, reflow.yaml is looked up in the
// working directory and /etc/reflow-controller; its absence is not an error.
func Load(filename string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("reflow")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/reflow-controller")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the control loop cannot run with.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	positive("loop.tick", c.Loop.Tick)
	positive("sensor.interval", c.Sensor.Interval)
	positive("control.interval", c.Control.Interval)
	positive("pwm.period", c.PWM.Period)

	if c.Sensor.Samples < 1 {
		errs = append(errs, fmt.Errorf("sensor.samples must be at least 1, got %d", c.Sensor.Samples))
	}
	if c.PWM.Steps < 1 {
		errs = append(errs, fmt.Errorf("pwm.steps must be at least 1, got %d", c.PWM.Steps))
	}
	if c.Sensor.ADCMax <= 0 || c.Sensor.SeriesResistance <= 0 || c.Sensor.NominalResistance <= 0 || c.Sensor.Beta <= 0 {
		errs = append(errs, errors.New("sensor: adc_max, series_ohms, nominal_ohms and beta must be positive"))
	}
	if c.Control.IntegralLimit < 0 {
		errs = append(errs, fmt.Errorf("control.integral_limit must not be negative, got %v", c.Control.IntegralLimit))
	}
	if err := oven.ValidateTunings(c.Tunings()); err != nil {
		errs = append(errs, fmt.Errorf("control: %w", err))
	}
	if c.Safety.MaxTempC < 0 {
		errs = append(errs, fmt.Errorf("safety.max_temp_c must not be negative, got %v", c.Safety.MaxTempC))
	}
	if c.ADC.Port == "" {
		errs = append(errs, errors.New("adc.port must be set"))
	}
	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		errs = append(errs, errors.New("mqtt.client_id must be set when mqtt.broker is"))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path must be set"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Tunings returns the configured PID gains.
func (c *Config) Tunings() logic.Tunings {
	return logic.Tunings{Kp: c.Control.Kp, Ki: c.Control.Ki, Kd: c.Control.Kd}
}

// Oven returns the control loop settings.
func (c *Config) Oven() oven.Config {
	return oven.Config{
		SampleInterval: c.Sensor.Interval,
		Samples:        c.Sensor.Samples,
		Thermistor: logic.ThermistorConfig{
			SeriesResistance:  c.Sensor.SeriesResistance,
			NominalResistance: c.Sensor.NominalResistance,
			NominalTemp:       c.Sensor.NominalTemp,
			Beta:              c.Sensor.Beta,
			ADCMax:            c.Sensor.ADCMax,
			FloorC:            c.Sensor.FloorC,
		},
		PID: logic.PIDConfig{
			Tunings:       c.Tunings(),
			Interval:      c.Control.Interval,
			IntegralLimit: c.Control.IntegralLimit,
			Bias:          c.Control.Bias,
		},
		PWM: logic.PWMConfig{
			Period: c.PWM.Period,
			Steps:  c.PWM.Steps,
		},
		MaxTempC: c.Safety.MaxTempC,
	}
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

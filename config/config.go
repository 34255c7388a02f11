// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the node configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	daq "github.com/ZaparooProject/go-daqnode"
	"gopkg.in/yaml.v3"
)

// Config represents the node configuration.
type Config struct {
	ADC      ADCConfig      `yaml:"adc"`
	CAN      CANConfig      `yaml:"can"`
	Storage  StorageConfig  `yaml:"storage"`
	Console  ConsoleConfig  `yaml:"console"`
	Schedule ScheduleConfig `yaml:"schedule"`
}

// ADCConfig wires the converter and multiplexer.
type ADCConfig struct {
	SPIPort      string        `yaml:"spi_port"`
	ChipSelect   string        `yaml:"chip_select"`
	MuxEnable    string        `yaml:"mux_enable"`
	MuxSelect    []string      `yaml:"mux_select"` // S0..S3, LSB first
	SpeedHz      int64         `yaml:"speed_hz"`
	SettleDelay  time.Duration `yaml:"settle_delay"`
	AcquireDelay time.Duration `yaml:"acquire_delay"`
}

// CANConfig wires the bus controller.
type CANConfig struct {
	SPIPort         string        `yaml:"spi_port"`
	ChipSelect      string        `yaml:"chip_select"`
	ClockPin        string        `yaml:"clock_pin"` // optional oscillator output
	SpeedHz         int64         `yaml:"speed_hz"`
	OscillatorHz    int64         `yaml:"oscillator_hz"`
	BitRate         int64         `yaml:"bit_rate"`
	BaseID          uint32        `yaml:"base_id"`
	TxBuffer        int           `yaml:"tx_buffer"`
	Bus             int           `yaml:"bus"` // index written to frame records
	InterFrameDelay time.Duration `yaml:"inter_frame_delay"`
}

// StorageConfig locates the log medium.
type StorageConfig struct {
	Dir        string `yaml:"dir"`
	SessionLog bool   `yaml:"session_log"`
}

// ConsoleConfig is the optional serial frame monitor.
type ConsoleConfig struct {
	Port     string `yaml:"port"` // empty disables the monitor
	BaudRate int    `yaml:"baud_rate"`
}

// ScheduleConfig sets the loop cadence.
type ScheduleConfig struct {
	LoopInterval   time.Duration `yaml:"loop_interval"`
	TransmitPeriod time.Duration `yaml:"transmit_period"`
	LogPeriod      time.Duration `yaml:"log_period"`
}

// Default returns the product configuration for the reference board.
func Default() *Config {
	return &Config{
		ADC: ADCConfig{
			SPIPort:      "/dev/spidev0.0",
			ChipSelect:   "GPIO5",
			MuxEnable:    "GPIO14",
			MuxSelect:    []string{"GPIO16", "GPIO17", "GPIO18", "GPIO19"},
			SpeedHz:      2_000_000,
			SettleDelay:  50 * time.Microsecond,
			AcquireDelay: 1 * time.Microsecond,
		},
		CAN: CANConfig{
			SPIPort:         "/dev/spidev1.0",
			ChipSelect:      "GPIO9",
			SpeedHz:         10_000_000,
			OscillatorHz:    8_000_000,
			BitRate:         500_000,
			BaseID:          0x200,
			TxBuffer:        0,
			Bus:             0,
			InterFrameDelay: 5 * time.Millisecond,
		},
		Storage: StorageConfig{
			Dir: "/var/lib/daqnode",
		},
		Console: ConsoleConfig{
			BaudRate: 115200,
		},
		Schedule: ScheduleConfig{
			LoopInterval:   100 * time.Millisecond,
			TransmitPeriod: 500 * time.Millisecond,
			LogPeriod:      1 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename) //nolint:gosec // operator-supplied config path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", filename, err)
	}
	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ensureDefaults fills zero values from Default. can.base_id is not touched:
// 0 is a valid identifier, and an absent key already keeps the default because
// Load decodes over Default.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.ADC.SPIPort == "" {
		c.ADC.SPIPort = def.ADC.SPIPort
	}
	if c.ADC.ChipSelect == "" {
		c.ADC.ChipSelect = def.ADC.ChipSelect
	}
	if c.ADC.MuxEnable == "" {
		c.ADC.MuxEnable = def.ADC.MuxEnable
	}
	if len(c.ADC.MuxSelect) == 0 {
		c.ADC.MuxSelect = def.ADC.MuxSelect
	}
	if c.ADC.SpeedHz == 0 {
		c.ADC.SpeedHz = def.ADC.SpeedHz
	}
	if c.ADC.SettleDelay == 0 {
		c.ADC.SettleDelay = def.ADC.SettleDelay
	}
	if c.ADC.AcquireDelay == 0 {
		c.ADC.AcquireDelay = def.ADC.AcquireDelay
	}

	if c.CAN.SPIPort == "" {
		c.CAN.SPIPort = def.CAN.SPIPort
	}
	if c.CAN.ChipSelect == "" {
		c.CAN.ChipSelect = def.CAN.ChipSelect
	}
	if c.CAN.SpeedHz == 0 {
		c.CAN.SpeedHz = def.CAN.SpeedHz
	}
	if c.CAN.OscillatorHz == 0 {
		c.CAN.OscillatorHz = def.CAN.OscillatorHz
	}
	if c.CAN.BitRate == 0 {
		c.CAN.BitRate = def.CAN.BitRate
	}
	if c.CAN.InterFrameDelay == 0 {
		c.CAN.InterFrameDelay = def.CAN.InterFrameDelay
	}

	if c.Storage.Dir == "" {
		c.Storage.Dir = def.Storage.Dir
	}
	if c.Console.BaudRate == 0 {
		c.Console.BaudRate = def.Console.BaudRate
	}

	if c.Schedule.LoopInterval == 0 {
		c.Schedule.LoopInterval = def.Schedule.LoopInterval
	}
	if c.Schedule.TransmitPeriod == 0 {
		c.Schedule.TransmitPeriod = def.Schedule.TransmitPeriod
	}
	if c.Schedule.LogPeriod == 0 {
		c.Schedule.LogPeriod = def.Schedule.LogPeriod
	}
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error

	if len(c.ADC.MuxSelect) != 4 {
		errs = append(errs, fmt.Errorf("adc.mux_select needs 4 pins, got %d", len(c.ADC.MuxSelect)))
	}
	if c.ADC.SettleDelay < 50*time.Microsecond {
		errs = append(errs, fmt.Errorf("adc.settle_delay %s is below 50µs", c.ADC.SettleDelay))
	}
	if last := c.CAN.BaseID + uint32(daq.BatchSize-1); last > 0x7FF {
		errs = append(errs, fmt.Errorf("can.base_id 0x%X leaves no room for %d standard identifiers", c.CAN.BaseID, daq.BatchSize))
	}
	if c.CAN.TxBuffer < 0 || c.CAN.TxBuffer > 2 {
		errs = append(errs, fmt.Errorf("can.tx_buffer %d out of range 0..2", c.CAN.TxBuffer))
	}
	if c.CAN.OscillatorHz <= 0 || c.CAN.BitRate <= 0 {
		errs = append(errs, errors.New("can.oscillator_hz and can.bit_rate must be positive"))
	}
	if c.Schedule.LoopInterval > 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("schedule.loop_interval %s exceeds 100ms", c.Schedule.LoopInterval))
	}

	return errors.Join(errs...)
}

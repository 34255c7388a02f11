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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	daq "github.com/ZaparooProject/go-daqnode"
	"github.com/ZaparooProject/go-daqnode/adc"
	"github.com/ZaparooProject/go-daqnode/config"
	"github.com/ZaparooProject/go-daqnode/internal/syncutil"
	"github.com/ZaparooProject/go-daqnode/mcp2515"
	"github.com/ZaparooProject/go-daqnode/scheduler"
	"github.com/ZaparooProject/go-daqnode/storage"
	"github.com/ZaparooProject/go-daqnode/transport/spi"
	"github.com/ZaparooProject/go-daqnode/transport/uart"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type options struct {
	configPath string
	logDir     string
	debug      bool
	sessionLog bool
}

// Package-level flag variables
var (
	flagConfigPath string
	flagLogDir     string
	flagDebug      bool
	flagSessionLog bool
)

func init() {
	flag.StringVar(&flagConfigPath, "config", "/etc/daqnode.yaml", "Path to the YAML configuration")
	flag.StringVar(&flagLogDir, "log-dir", "", "Override storage.dir from the configuration")
	flag.BoolVar(&flagDebug, "debug", false, "Enable debug output")
	flag.BoolVar(&flagSessionLog, "session-log", false, "Write a session debug log next to the data logs")
}

func parseOptions() *options {
	opts := &options{
		configPath: flagConfigPath,
		logDir:     flagLogDir,
		debug:      flagDebug,
		sessionLog: flagSessionLog,
	}

	if opts.debug {
		daq.SetDebugEnabled(true)
		daq.Debugf("lock tracking: %t", syncutil.Detecting)
	}

	return opts
}

func hz(v int64) physic.Frequency {
	return physic.Frequency(v) * physic.Hertz
}

// openSampler opens the converter bus and the multiplexer lines.
func openSampler(cfg *config.ADCConfig) (*adc.Sampler, *spi.Bus, error) {
	bus, err := spi.Open(cfg.SPIPort, hz(cfg.SpeedHz))
	if err != nil {
		return nil, nil, err
	}

	cs, err := spi.OutputPin(cfg.ChipSelect, gpio.High)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	enable, err := spi.OutputPin(cfg.MuxEnable, gpio.High)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	selects, err := spi.OutputPins(cfg.MuxSelect, gpio.Low)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}

	mux := adc.Mux{Enable: enable}
	for i := range mux.Select {
		mux.Select[i] = selects[i]
	}

	sampler, err := adc.New(bus.Conn(), cs, mux,
		adc.WithSettleDelay(cfg.SettleDelay),
		adc.WithAcquireDelay(cfg.AcquireDelay))
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("failed to set up sampler: %w", err)
	}
	return sampler, bus, nil
}

// openController opens the controller bus and brings the controller to
// Normal mode.
func openController(ctx context.Context, cfg *config.CANConfig) (*mcp2515.Controller, *spi.Bus, error) {
	if cfg.ClockPin != "" {
		if _, err := spi.StartClock(cfg.ClockPin, hz(cfg.OscillatorHz)); err != nil {
			return nil, nil, err
		}
	}

	bus, err := spi.Open(cfg.SPIPort, hz(cfg.SpeedHz))
	if err != nil {
		return nil, nil, err
	}
	cs, err := spi.OutputPin(cfg.ChipSelect, gpio.High)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}

	ctrl, err := mcp2515.New(bus.Conn(), cs, mcp2515.Config{
		Oscillator:      hz(cfg.OscillatorHz),
		BitRate:         hz(cfg.BitRate),
		TxBuffer:        cfg.TxBuffer,
		InterFrameDelay: cfg.InterFrameDelay,
	})
	if err != nil {
		_ = bus.Close()
		return nil, nil, fmt.Errorf("failed to set up controller: %w", err)
	}

	if err := ctrl.Init(ctx); err != nil {
		if te := daq.GetTrace(err); te != nil {
			_, _ = fmt.Fprint(os.Stderr, te.FormatTrace())
		}
		_ = bus.Close()
		return nil, nil, err
	}
	return ctrl, bus, nil
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logDir != "" {
		cfg.Storage.Dir = opts.logDir
	}

	if err := spi.Init(); err != nil {
		return err
	}

	sampler, adcBus, err := openSampler(&cfg.ADC)
	if err != nil {
		return err
	}
	defer func() { _ = adcBus.Close() }()

	ctrl, canBus, err := openController(ctx, &cfg.CAN)
	if err != nil {
		return err
	}
	defer func() { _ = canBus.Close() }()

	store, err := storage.Mount(cfg.Storage.Dir)
	if err != nil {
		return err
	}

	if opts.sessionLog || cfg.Storage.SessionLog {
		path, logErr := daq.InitSessionLog(cfg.Storage.Dir)
		if logErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Session log disabled: %v\n", logErr)
		} else {
			_, _ = fmt.Printf("Session log: %s\n", path)
			defer func() { _ = daq.CloseSessionLog() }()
		}
	}

	nodeOpts := []daq.NodeOption{daq.WithBaseID(cfg.CAN.BaseID)}
	if cfg.Console.Port != "" {
		monitor, monErr := uart.Open(cfg.Console.Port, cfg.Console.BaudRate)
		if monErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Console monitor disabled: %v\n", monErr)
		} else {
			defer func() { _ = monitor.Close() }()
			nodeOpts = append(nodeOpts, daq.WithObserver(monitor))
		}
	}

	rec := daq.NewRecorder(store, daq.SystemClock{}, cfg.CAN.Bus)
	node := daq.NewNode(sampler, ctrl, rec, nodeOpts...)

	sched := scheduler.New(scheduler.SystemClock{}, &scheduler.Config{
		LoopInterval:     cfg.Schedule.LoopInterval,
		TransmitPeriod:   cfg.Schedule.TransmitPeriod,
		LogPeriod:        cfg.Schedule.LogPeriod,
		OverrunThreshold: scheduler.DefaultConfig().OverrunThreshold,
	})
	sched.OnSample = node.Sample
	sched.OnShutdown = node.Shutdown
	sched.AddDuty("transmit", cfg.Schedule.TransmitPeriod, node.Transmit)
	sched.AddDuty("log", cfg.Schedule.LogPeriod, node.LogSamples)

	_, _ = fmt.Printf("Acquisition running: %d channels, ids 0x%03X..0x%03X at %s. Press Ctrl+C to stop...\n",
		daq.NumChannels, cfg.CAN.BaseID, cfg.CAN.BaseID+uint32(daq.BatchSize-1), hz(cfg.CAN.BitRate))

	runErr := sched.Run(ctx)

	st := node.Stats()
	_, _ = fmt.Printf("Samples: %d (failed %d), batches: %d, frames: %d (failed %d), records dropped: %d\n",
		st.Samples, st.SampleFailures, st.Batches, st.FramesSent, st.FrameFailures, st.RecordsDropped)

	return runErr
}

func main() {
	flag.Parse()
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	opts := parseOptions()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_, _ = fmt.Print("\nShutting down gracefully...\n")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

package main

import (
	"fmt"
	"time"

	"github.com/facetrack/facetrack/pkg/attendance"
	"github.com/facetrack/facetrack/pkg/config"
	"github.com/facetrack/facetrack/pkg/embedding"
	"github.com/facetrack/facetrack/pkg/enrollment"
	"github.com/facetrack/facetrack/pkg/extract"
	"github.com/facetrack/facetrack/pkg/match"
	"github.com/facetrack/facetrack/pkg/session"
	"github.com/facetrack/facetrack/pkg/store"
)

// app bundles the wired components a command needs. Close releases the
// storage backend and extractor.
type app struct {
	cfg        *config.Config
	extractor  *extract.DlibExtractor
	validator  embedding.Validator
	identities enrollment.Store
	events     attendance.EventLog
	registrar  *enrollment.Registrar
	recognizer *session.Recognizer

	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

// newApp wires storage, validation, matching and the session façade from
// the loaded configuration. Extraction models are loaded lazily by the
// commands that need them.
func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg:       cfg,
		validator: embedding.NewValidator(cfg.Embedding.Dimensions, cfg.Embedding.MinMagnitude),
	}

	switch cfg.Storage.Backend {
	case "postgres":
		ps, err := store.NewPostgresStore(cfg.Storage.PostgresDSN, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		a.identities, a.events = ps, ps
		a.closers = append(a.closers, ps.Close)
	default:
		fs, err := store.NewFileStore(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		a.identities, a.events = fs, fs
	}

	a.extractor = extract.NewDlibExtractor()
	a.closers = append(a.closers, a.extractor.Close)

	a.registrar = enrollment.NewRegistrar(a.identities, a.validator)

	engine := match.NewEngine(policyFromConfig(cfg), match.WithRetryableCheck(extract.Retryable))
	machine := attendance.NewStateMachine(reentryWindow(cfg))

	a.recognizer = session.NewRecognizer(session.Config{
		Extractor:    a.extractor,
		Validator:    a.validator,
		Engine:       engine,
		Machine:      machine,
		Identities:   a.identities,
		Events:       a.events,
		StoreRetries: cfg.Storage.StoreRetries,
		StoreBackoff: time.Duration(cfg.Storage.StoreBackoffMs) * time.Millisecond,
	})

	return a, nil
}

func (a *app) loadModels() error {
	return a.extractor.LoadModels(a.cfg.Extractor.ModelPath)
}

func policyFromConfig(cfg *config.Config) match.ThresholdPolicy {
	return match.ThresholdPolicy{
		BaseThreshold: cfg.Recognition.BaseThreshold,
		HighThreshold: cfg.Recognition.HighThreshold,
		BaseMargin:    cfg.Recognition.BaseMargin,
		HighMargin:    cfg.Recognition.HighMargin,
		MaxRetries:    cfg.Recognition.MaxRetries,
		RetryBackoff:  time.Duration(cfg.Recognition.RetryBackoffMs) * time.Millisecond,
	}
}

func reentryWindow(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Attendance.ReentryWindowHours * float64(time.Hour))
}

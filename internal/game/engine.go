package game

import (
	"context"
	"log"
)

type EngineType string

const EngineTypeCrash EngineType = "crash"

// Engine is a supervised game lifecycle. The crash Manager is the one
// engine this service runs today; the registry keeps start/stop
// handling uniform if more are added.
type Engine interface {
	Type() EngineType
	Start(ctx context.Context) error
	Stop() error
	State() interface{}
}

type Supervisor struct {
	engines map[EngineType]Engine
	ctx     context.Context
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		engines: make(map[EngineType]Engine),
		ctx:     context.Background(),
	}
}

func (s *Supervisor) Register(engine Engine) {
	s.engines[engine.Type()] = engine
}

func (s *Supervisor) Get(engineType EngineType) (Engine, bool) {
	engine, exists := s.engines[engineType]
	return engine, exists
}

func (s *Supervisor) StartAll() error {
	for engineType, engine := range s.engines {
		if err := engine.Start(s.ctx); err != nil {
			return err
		}
		log.Printf("[SUPERVISOR] Started %s engine", engineType)
	}
	return nil
}

func (s *Supervisor) StopAll() error {
	for engineType, engine := range s.engines {
		if err := engine.Stop(); err != nil {
			return err
		}
		log.Printf("[SUPERVISOR] Stopped %s engine", engineType)
	}
	return nil
}

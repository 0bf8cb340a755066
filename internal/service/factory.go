package service

import (
	"chroniq.app/engine/internal/queue"
	"chroniq.app/engine/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	producer queue.Producer
}

func NewServices(stores *store.Stores, txRunner TxRunner, producer queue.Producer) *Services {
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		producer: producer,
	}
}

func (s *Services) Dispatcher() DispatcherService {
	return NewDispatcherService(s.txRunner, s.producer)
}

func (s *Services) Jobs() JobService {
	return NewJobService(s.stores.Jobs(), s.txRunner, s.producer)
}

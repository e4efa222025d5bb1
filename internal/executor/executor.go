// Package executor is the mock batch executor service. None of its methods
// are implemented; each call faults with rpcserve.ErrNotImplemented.
package executor

import "github.com/danmuck/proverctl/internal/rpcserve"

const ServiceName = "executor.v1.ExecutorService"

var methods = []string{"ProcessBatch", "ProcessBatchV2", "GetFlushStatus"}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

func (s *Service) Name() string { return ServiceName }

func (s *Service) Methods() map[string]rpcserve.Method {
	m := make(map[string]rpcserve.Method, len(methods))
	for _, name := range methods {
		m[name] = rpcserve.Unimplemented(ServiceName, name)
	}
	return m
}

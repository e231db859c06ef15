package service

import "sync"

// TriggeredService waits for an external trigger before completing startup.
// If the trigger is already set when Start runs, the start completes at
// once; otherwise the attempt stays STARTING until SetTrigger(true).
type TriggeredService struct {
	mu          sync.Mutex
	isTriggered bool
	pending     StartContext
}

// NewTriggeredService creates an untriggered service.
func NewTriggeredService() *TriggeredService {
	return &TriggeredService{}
}

func (s *TriggeredService) Start(ctx StartContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isTriggered {
		return nil
	}
	ctx.Asynchronous()
	s.pending = ctx
	return nil
}

func (s *TriggeredService) Stop(StopContext) {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// SetTrigger sets or clears the trigger. Setting it completes a start
// attempt waiting for it.
func (s *TriggeredService) SetTrigger(triggered bool) {
	s.mu.Lock()
	s.isTriggered = triggered
	var ctx StartContext
	if triggered {
		ctx, s.pending = s.pending, nil
	}
	s.mu.Unlock()
	if ctx != nil {
		_ = ctx.Complete()
	}
}

// Fail fails a start attempt waiting for the trigger. It reports whether an
// attempt was waiting.
func (s *TriggeredService) Fail(cause error) bool {
	s.mu.Lock()
	ctx := s.pending
	s.pending = nil
	s.mu.Unlock()
	if ctx == nil {
		return false
	}
	return ctx.Failed(cause) == nil
}

// IsTriggered returns the current trigger state.
func (s *TriggeredService) IsTriggered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTriggered
}

// Waiting reports whether a start attempt is waiting for the trigger.
func (s *TriggeredService) Waiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

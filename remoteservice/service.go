package remoteservice

import (
	"sync"

	"go.uber.org/zap"

	"mini-binder/rect"
)

// BasicValues holds the arguments of one basicTypes call.
type BasicValues struct {
	AnInt    int32
	ALong    int64
	ABoolean bool
	AFloat   float32
	ADouble  float64
	AString  string
}

// Service implements IRemoteService. It logs every call and remembers the
// last arguments it saw.
type Service struct {
	pid    int32
	logger *zap.Logger

	mu        sync.Mutex
	lastBasic *BasicValues
	lastRect  *rect.Rect
}

func NewService(pid int32, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pid: pid, logger: logger}
}

func (s *Service) GetPid() (int32, error) {
	return s.pid, nil
}

func (s *Service) BasicTypes(anInt int32, aLong int64, aBoolean bool, aFloat float32, aDouble float64, aString string) error {
	s.logger.Info("basicTypes",
		zap.Int32("anInt", anInt),
		zap.Int64("aLong", aLong),
		zap.Bool("aBoolean", aBoolean),
		zap.Float32("aFloat", aFloat),
		zap.Float64("aDouble", aDouble),
		zap.String("aString", aString))

	s.mu.Lock()
	s.lastBasic = &BasicValues{anInt, aLong, aBoolean, aFloat, aDouble, aString}
	s.mu.Unlock()
	return nil
}

// AddRectInOut records r and hands it back unchanged.
func (s *Service) AddRectInOut(r *rect.Rect) error {
	s.logger.Info("addRectInOut", zap.Stringer("rect", *r))

	s.mu.Lock()
	v := *r
	s.lastRect = &v
	s.mu.Unlock()
	return nil
}

// LastBasicTypes returns the arguments of the latest basicTypes call.
func (s *Service) LastBasicTypes() (BasicValues, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBasic == nil {
		return BasicValues{}, false
	}
	return *s.lastBasic, true
}

// LastRect returns the rect of the latest addRectInOut call.
func (s *Service) LastRect() (rect.Rect, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRect == nil {
		return rect.Rect{}, false
	}
	return *s.lastRect, true
}

package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dnssentinel/sentinel-brain/internal/api"
	"github.com/dnssentinel/sentinel-brain/internal/engine"
	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/repo"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

// Engine is the decision pipeline as seen by the transport.
type Engine interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) (models.CycleResult, error)
	Replay(ctx context.Context, req models.ReplayRequest) (models.CycleResult, error)
	LastAccepted(target string) (models.Decision, bool)
}

// SentinelService implements the gRPC DecisionEngine service.
type SentinelService struct {
	logger    *slog.Logger
	engine    Engine
	latencies *utils.LatencyTracker
}

// NewSentinelService constructs the service facade.
func NewSentinelService(logger *slog.Logger, eng Engine) *SentinelService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SentinelService{
		logger:    logger,
		engine:    eng,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Analyze runs one on-demand cycle.
func (s *SentinelService) Analyze(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "engine not configured")
	}
	req, err := api.FromAnalyzeStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("Analyze called", slog.String("target", req.Target))

	start := time.Now()
	res, err := s.engine.Analyze(ctx, req)
	s.observe(time.Since(start))
	return s.respond(res, err)
}

// ReplayIncident re-analyzes a stored incident without reaching the execution layer.
func (s *SentinelService) ReplayIncident(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "engine not configured")
	}
	req, err := api.FromReplayStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug("ReplayIncident called", slog.String("incident_id", req.IncidentID))

	res, err := s.engine.Replay(ctx, req)
	return s.respond(res, err)
}

// LastDecision returns the last accepted decision for a target.
func (s *SentinelService) LastDecision(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.engine == nil {
		return nil, status.Error(codes.FailedPrecondition, "engine not configured")
	}
	target, err := api.TargetFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, ok := s.engine.LastAccepted(target)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no accepted decision for %s", target)
	}
	out, err := api.ToDecisionStruct(d)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// LatencyP95 returns the current p95 on-demand cycle latency.
func (s *SentinelService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

func (s *SentinelService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("analyze latency", slog.Duration("p95", s.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

// respond maps cycle errors onto gRPC codes. Rejected cycles are not
// transport failures; they come back as a result with outcome rejected.
func (s *SentinelService) respond(res models.CycleResult, err error) (*structpb.Struct, error) {
	if err != nil && !errors.Is(err, engine.ErrRejected) {
		return nil, status.Error(codeFor(err), err.Error())
	}
	out, convErr := api.ToResultStruct(res)
	if convErr != nil {
		return nil, status.Error(codes.Internal, convErr.Error())
	}
	return out, nil
}

func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, engine.ErrDataUnavailable):
		return codes.Unavailable
	case errors.Is(err, engine.ErrSynthesisFailed):
		return codes.Aborted
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Internal
	}
}

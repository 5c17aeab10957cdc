// Ingest implements profilerpb.CollectorServer: it receives the StreamEvents
// client stream a transport.Client opens, persists each event via a Store,
// and tracks per-session sequence numbers, mirroring the TripWire
// dashboard's AlertService but for our simpler client-streaming contract.
package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/elus10n/profiler/proto/profilerpb"
)

// IngestService implements profilerpb.CollectorServer.
type IngestService struct {
	profilerpb.UnimplementedCollectorServer

	store  Store
	logger *slog.Logger

	mu      sync.Mutex
	seqNums map[string]int64 // per-session next sequence number
}

// NewIngestService creates an IngestService backed by store.
func NewIngestService(store Store, logger *slog.Logger) *IngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestService{
		store:   store,
		logger:  logger,
		seqNums: make(map[string]int64),
	}
}

// StreamEvents implements profilerpb.CollectorServer.StreamEvents. It reads
// event envelopes until the client closes the send side, persisting each
// one, then acknowledges with an empty response.
func (s *IngestService) StreamEvents(stream profilerpb.Collector_StreamEventsServer) error {
	ctx := stream.Context()

	for {
		env, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&emptypb.Empty{})
		}
		if err != nil {
			return err
		}

		if err := s.handleEnvelope(ctx, env); err != nil {
			s.logger.Warn("ingest: dropping malformed event", "err", err)
			continue
		}
	}
}

// GetHealth implements profilerpb.CollectorServer.GetHealth.
func (s *IngestService) GetHealth(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *IngestService) handleEnvelope(ctx context.Context, env *structpb.Struct) error {
	fields := env.GetFields()

	kind, ok := fields[profilerpb.FieldKind]
	if !ok {
		return status.Error(codes.InvalidArgument, "event missing kind field")
	}
	sessionID, ok := fields[profilerpb.FieldSessionID]
	if !ok {
		return status.Error(codes.InvalidArgument, "event missing session_id field")
	}
	pidVal := fields[profilerpb.FieldPid].GetNumberValue()

	switch profilerpb.EventKind(kind.GetStringValue()) {
	case profilerpb.EventKindMetric:
		return s.handleMetricEvent(ctx, sessionID.GetStringValue(), int32(pidVal), fields)
	case profilerpb.EventKindLog, profilerpb.EventKindError:
		return s.handleLogEvent(ctx, sessionID.GetStringValue(), fields, kind.GetStringValue())
	default:
		return fmt.Errorf("unknown event kind %q", kind.GetStringValue())
	}
}

func (s *IngestService) handleMetricEvent(ctx context.Context, sessionID string, pid int32, fields map[string]*structpb.Value) error {
	snapStruct := fields[profilerpb.FieldSnapshot].GetStructValue()
	if snapStruct == nil {
		return fmt.Errorf("metric event missing snapshot field")
	}
	raw, err := snapStruct.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := s.ensureSessionStarted(ctx, sessionID, pid); err != nil {
		return err
	}

	seq := s.nextSeq(sessionID)
	return s.store.InsertSnapshot(ctx, Snapshot{
		SessionID:   sessionID,
		SequenceNum: seq,
		TimestampMs: uint64(snapStruct.GetFields()["TimestampMs"].GetNumberValue()),
		DurationMs:  uint64(snapStruct.GetFields()["DurationMs"].GetNumberValue()),
		Metrics:     raw,
		ReceivedAt:  time.Now().UTC(),
	})
}

func (s *IngestService) handleLogEvent(ctx context.Context, sessionID string, fields map[string]*structpb.Value, kind string) error {
	msg := fields[profilerpb.FieldMessage].GetStringValue()
	if err := s.store.InsertLogLine(ctx, LogLine{
		SessionID:  sessionID,
		Level:      kind,
		Message:    msg,
		ReceivedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}

	if isSessionEndedLog(msg) {
		sess, err := s.store.GetSession(ctx, sessionID)
		if err != nil && err != ErrNotFound {
			return fmt.Errorf("get session for end: %w", err)
		}
		sess.SessionID = sessionID
		now := time.Now().UTC()
		sess.EndedAt = &now
		sess.Status = SessionStatusEnded
		sess.Reason = msg
		return s.store.UpsertSession(ctx, sess)
	}
	return nil
}

// ensureSessionStarted upserts a minimal running session record the first
// time a session's events are observed, so a session row exists even if the
// collector missed the producer's own session-start bookkeeping.
func (s *IngestService) ensureSessionStarted(ctx context.Context, sessionID string, pid int32) error {
	if _, err := s.store.GetSession(ctx, sessionID); err == nil {
		return nil
	} else if err != ErrNotFound {
		return err
	}
	return s.store.UpsertSession(ctx, Session{
		SessionID: sessionID,
		Pid:       pid,
		StartedAt: time.Now().UTC(),
		Status:    SessionStatusRunning,
	})
}

func (s *IngestService) nextSeq(sessionID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.seqNums[sessionID]
	s.seqNums[sessionID] = n + 1
	return n
}

func isSessionEndedLog(msg string) bool {
	return len(msg) >= len("Stopped profiling") && msg[:len("Stopped profiling")] == "Stopped profiling"
}

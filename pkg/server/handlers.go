package server

import (
	"context"
	"time"

	"github.com/marmos91/ccsd/internal/ipc"
	"github.com/marmos91/ccsd/internal/logger"
	"github.com/marmos91/ccsd/internal/telemetry"
	"github.com/marmos91/ccsd/pkg/ccapi/ccache"
	ccerrors "github.com/marmos91/ccsd/pkg/ccapi/errors"
	"github.com/marmos91/ccsd/pkg/ccapi/lock"
)

// result is what a handler produced. deferred means the reply is delivered
// by the lock manager over the request's reply pipe.
type result struct {
	payload  any
	deferred bool
}

// dispatch runs one request and replies to it.
func (s *Server) dispatch(ctx context.Context, ep *ipc.Endpoint, req *ipc.Request) {
	start := time.Now()
	op := ipc.Op(req.Op)

	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanRequest,
		telemetry.Operation(op.String()),
		telemetry.ClientID(ep.ID()),
		telemetry.RequestID(req.RequestID),
		telemetry.Cache(req.Cache))
	defer span.End()

	lc := logger.NewLogContext(ep.ID(), req.RequestID).
		WithOperation(op.String(), req.Cache).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	res, err := s.handle(ctx, ep, req)
	code := ccerrors.CodeOf(err)
	s.metrics.observeRequest(op.String(), code.String(), time.Since(start))
	telemetry.SetAttributes(ctx, telemetry.Status(code.String()))

	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.DebugCtx(ctx, "Request failed", logger.KeyStatus, code.String(), logger.Err(err))
	} else {
		logger.DebugCtx(ctx, "Request handled", logger.KeyDurationMs, logger.Duration(start))
	}

	if err == nil && res.deferred {
		return
	}

	reply := &ipc.Reply{RequestID: req.RequestID, Code: uint32(code)}
	if err != nil {
		reply.Message = err.Error()
	} else if res.payload != nil {
		data, eerr := ipc.Encode(res.payload)
		if eerr != nil {
			logger.ErrorCtx(ctx, "Failed to encode reply", logger.Err(eerr))
			reply.Code = uint32(ccerrors.ErrServerUnavailable)
			reply.Message = eerr.Error()
		} else {
			reply.Payload = data
		}
	}
	if rerr := ep.Reply(reply); rerr != nil {
		logger.WarnCtx(ctx, "Failed to queue reply", logger.Err(rerr))
	}
}

func (s *Server) handle(ctx context.Context, ep *ipc.Endpoint, req *ipc.Request) (result, error) {
	switch ipc.Op(req.Op) {
	case ipc.OpPing:
		return result{}, nil

	case ipc.OpCacheCreate:
		info, err := s.caches.Create(req.Cache, req.Principal)
		if err != nil {
			return result{}, err
		}
		return result{payload: cacheEntry(info)}, nil

	case ipc.OpCacheDestroy:
		return result{}, s.destroyCache(ctx, req.Cache)

	case ipc.OpCacheList:
		list := ipc.CacheList{Caches: []ipc.CacheEntry{}}
		for _, info := range s.caches.List() {
			list.Caches = append(list.Caches, cacheEntry(info))
		}
		return result{payload: &list}, nil

	case ipc.OpCacheImport:
		return s.importCache(ctx, req)

	case ipc.OpSetDefault:
		return result{}, s.caches.SetDefault(req.Cache)

	case ipc.OpCredentials:
		name, err := s.resolveCache(req.Cache)
		if err != nil {
			return result{}, err
		}
		creds, err := s.caches.Credentials(name)
		if err != nil {
			return result{}, err
		}
		list := ipc.CredentialList{Credentials: []ipc.CredentialEntry{}}
		for _, c := range creds {
			list.Credentials = append(list.Credentials, ipc.CredentialEntry{
				Server:    c.Server,
				KeyType:   c.KeyType,
				StartTime: c.StartTime.Unix(),
				EndTime:   c.EndTime.Unix(),
				Flags:     c.Flags,
			})
		}
		return result{payload: &list}, nil

	case ipc.OpLock:
		object, err := s.cacheObject(req.Cache)
		if err != nil {
			return result{}, err
		}
		return s.lock(ctx, ep, req, object, ccerrors.ErrInvalidCCache)

	case ipc.OpUnlock:
		object, err := s.cacheObject(req.Cache)
		if err != nil {
			return result{}, err
		}
		return result{}, s.unlock(ctx, ep, object)

	case ipc.OpContextLock:
		return s.lock(ctx, ep, req, ccache.CollectionObject, ccerrors.ErrInvalidContext)

	case ipc.OpContextUnlock:
		return result{}, s.unlock(ctx, ep, ccache.CollectionObject)

	case ipc.OpLockStatus:
		object := ccache.CollectionObject
		if req.Cache != "" {
			var err error
			if object, err = s.cacheObject(req.Cache); err != nil {
				return result{}, err
			}
		}
		status := ipc.LockStatus{Object: object, Locks: []ipc.LockEntry{}}
		for _, l := range s.locks.Snapshot(object) {
			status.Locks = append(status.Locks, ipc.LockEntry{
				ID:      l.ID,
				Mode:    uint32(l.Mode),
				Pending: l.Pending,
				Client:  l.Client,
				Since:   l.Since.Unix(),
			})
		}
		return result{payload: &status}, nil
	}

	return result{}, ccerrors.NewBadParamError("unknown operation " + ipc.Op(req.Op).String())
}

// resolveCache maps "" to the default cache.
func (s *Server) resolveCache(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	return s.caches.Default()
}

func (s *Server) cacheObject(name string) (string, error) {
	name, err := s.resolveCache(name)
	if err != nil {
		return "", err
	}
	return s.caches.LockObject(name)
}

// lock files a lock request. The client's copy of its own pipes is released
// here; the lock manager keeps copies of its own.
func (s *Server) lock(ctx context.Context, ep *ipc.Endpoint, req *ipc.Request, object string, invalidErr ccerrors.ErrorCode) (result, error) {
	mode := lock.Mode(req.LockMode)
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockRequest,
		telemetry.Object(object), telemetry.LockMode(mode.String()))
	defer span.End()

	client := ep.Pipe(0)
	reply := ep.Pipe(req.RequestID)
	defer func() {
		_ = client.Release()
		_ = reply.Release()
	}()

	l, err := s.locks.Request(object, mode, invalidErr, client, reply)
	if err != nil && !lock.IsNotifyError(err) {
		telemetry.RecordError(ctx, err)
		return result{}, err
	}
	if err != nil {
		logger.WarnCtx(ctx, "Lock granted but other clients could not be notified", logger.Err(err))
	}

	pending, _ := l.IsPending()
	telemetry.SetAttributes(ctx, telemetry.LockID(l.ID()), telemetry.Queued(pending))
	logger.DebugCtx(ctx, "Lock requested",
		logger.KeyObject, object,
		logger.KeyLockID, l.ID(),
		logger.KeyMode, mode.String(),
		"pending", pending)
	return result{deferred: true}, nil
}

func (s *Server) unlock(ctx context.Context, ep *ipc.Endpoint, object string) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanLockUnlock, telemetry.Object(object))
	defer span.End()

	client := ep.Pipe(0)
	defer func() { _ = client.Release() }()

	err := s.locks.Unlock(object, client)
	if lock.IsNotifyError(err) {
		logger.WarnCtx(ctx, "Unlocked but waiting clients could not be notified", logger.Err(err))
		return nil
	}
	telemetry.RecordError(ctx, err)
	return err
}

func (s *Server) releaseClient(ctx context.Context, ep *ipc.Endpoint) (int, error) {
	_, span := telemetry.StartSpan(ctx, telemetry.SpanLockRelease, telemetry.ClientID(ep.ID()))
	defer span.End()

	client := ep.Pipe(0)
	defer func() { _ = client.Release() }()
	return s.locks.ReleaseClient(client)
}

func (s *Server) destroyCache(ctx context.Context, name string) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCacheDestroy, telemetry.Cache(name))
	defer span.End()

	if err := s.caches.Destroy(name); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	logger.InfoCtx(ctx, "Credential cache destroyed")
	return nil
}

func (s *Server) importCache(ctx context.Context, req *ipc.Request) (result, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanCacheImport, telemetry.Cache(req.Cache))
	defer span.End()

	// Clients send the file contents; the server never opens paths on
	// their behalf.
	if len(req.Data) == 0 {
		err := ccerrors.NewBadParamError("import needs cache data")
		telemetry.RecordError(ctx, err)
		return result{}, err
	}
	info, err := s.caches.ImportBytes(req.Cache, req.Data)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return result{}, err
	}
	return result{payload: cacheEntry(info)}, nil
}

func cacheEntry(info ccache.Info) ipc.CacheEntry {
	return ipc.CacheEntry{
		Name:        info.Name,
		Principal:   info.Principal,
		Credentials: uint32(info.Credentials),
		Default:     info.Default,
		ChangedAt:   info.ChangedAt.Unix(),
	}
}

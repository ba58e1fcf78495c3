package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	scoperr "github.com/mevscope/mevscope/errors"
)

// defaultProbeTimeout bounds the capability probe. Endpoints without the
// debug namespace answer quickly with a method-not-found error, but some
// gateways swallow unknown methods instead.
const defaultProbeTimeout = 5 * time.Second

// ProbeNativeTracing reports whether the endpoint serves call-traced
// debug calls. It traces a zero-value transfer at the latest block and
// treats any error as lack of support.
func ProbeNativeTracing(ctx context.Context, client rawCaller, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	probe := callObject{To: &common.Address{}}
	var frame callFrame
	err := client.RawCall(probeCtx, &frame, "debug_traceCall", probe, "latest",
		traceConfig{Tracer: callTracerName})
	return err == nil
}

// NewTracer builds the backend for the given mode. Auto probes the
// endpoint once per run and picks native tracing when available, local
// replay otherwise.
func NewTracer(ctx context.Context, mode Mode, chainID uint64, client rawCaller, cache *SimulationCache, logger zerolog.Logger) (Tracer, error) {
	switch mode {
	case ModeRPC:
		return NewNativeTracer(chainID, client, logger), nil
	case ModeReplay:
		return NewReplayer(chainID, NewRPCExecutor(client, logger), cache, logger), nil
	case ModeAuto:
		if ProbeNativeTracing(ctx, client, defaultProbeTimeout) {
			logger.Info().Str("backend", string(ModeRPC)).Msg("endpoint serves native tracing")
			return NewNativeTracer(chainID, client, logger), nil
		}
		logger.Info().Str("backend", string(ModeReplay)).Msg("native tracing unavailable, using local replay")
		return NewReplayer(chainID, NewRPCExecutor(client, logger), cache, logger), nil
	default:
		return nil, scoperr.NewInternalError(chainID, fmt.Sprintf("no trace backend for mode %q", mode), nil)
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/danielpatrickdp/buildgate/go-controller/internal/admission"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/failclosed"
	"github.com/danielpatrickdp/buildgate/go-controller/internal/trace"
)

// response is one line of stdout per request line.
type response struct {
	JobID          string      `json:"job_id,omitempty"`
	Admitted       bool        `json:"admitted"`
	Regime         string      `json:"regime,omitempty"`
	RequestedMode  string      `json:"requested_mode,omitempty"`
	EffectiveMode  string      `json:"effective_mode,omitempty"`
	Token          trace.Token `json:"token"`
	Valid          bool        `json:"valid"`
	QualityQ16     int64       `json:"quality_q16"`
	FallbackQ16    int64       `json:"fallback_q16"`
	LoadQ16        int64       `json:"load_q16"`
	Seq            uint64      `json:"seq,omitempty"`
	TraceSignature string      `json:"trace_signature,omitempty"`
	Error          string      `json:"error,omitempty"`
	Code           string      `json:"code,omitempty"`
	GRPCCode       string      `json:"grpc_code,omitempty"`
}

// serve decides one JSON request per input line until EOF or ctx ends.
// Every line gets exactly one response line; a refused request is reported,
// never dropped.
func serve(ctx context.Context, ctl *admission.Controller, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	enc := json.NewEncoder(out)
	line := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		text := strings.TrimSpace(scanner.Text())
		line++
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		resp := handle(ctx, ctl, text)
		if resp.Error != "" {
			logger.Debug().Int("line", line).Str("error", resp.Error).Msg("request refused")
		}
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

func handle(ctx context.Context, ctl *admission.Controller, text string) response {
	var req admission.Request
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		return response{Token: trace.Unknown, Error: fmt.Sprintf("decode request: %v", err)}
	}
	d, err := ctl.Decide(ctx, req)
	if err != nil {
		resp := response{JobID: req.JobID, Token: trace.Unknown, Error: err.Error()}
		if fc, ok := failclosed.As(err); ok {
			resp.Code = fc.Code.String()
			resp.GRPCCode = fc.Code.GRPCCode().String()
		}
		return resp
	}
	resp := response{
		JobID:          d.JobID.String(),
		Admitted:       d.Admitted,
		Regime:         d.Regime.String(),
		RequestedMode:  d.RequestedMode.String(),
		Token:          d.Token,
		Valid:          d.Evaluation.Result.Valid,
		QualityQ16:     int64(d.Evaluation.Quality),
		FallbackQ16:    int64(d.Evaluation.Result.Fallback),
		LoadQ16:        int64(d.Load),
		Seq:            d.Entry.Seq,
		TraceSignature: fmt.Sprintf("%016x", d.TraceSignature),
	}
	if d.Admitted {
		resp.EffectiveMode = d.EffectiveMode.String()
	}
	return resp
}

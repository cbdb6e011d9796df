package logging

import (
	"app_lifecycle/lifecycle"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Phase returns a "phase" field.
func Phase(p lifecycle.Phase) zap.Field {
	return zap.String("phase", p.String())
}

// Owner returns an "owner" field rendering the plugin identity.
func Owner(id lifecycle.Identity) zap.Field {
	return zap.String("owner", id.String())
}

// State returns a "state" field.
func State(s lifecycle.State) zap.Field {
	return zap.String("state", s.String())
}

// Verdict returns a "verdict" field.
func Verdict(v lifecycle.Verdict) zap.Field {
	return zap.String("verdict", v.String())
}

// OutcomeField renders a whole phase outcome as a nested "outcome" object.
//
//	logger.Info("phase finished", logging.OutcomeField(out))
func OutcomeField(out *lifecycle.Outcome) zap.Field {
	return zap.Object("outcome", outcomeMarshaler{out})
}

type outcomeMarshaler struct {
	out *lifecycle.Outcome
}

func (m outcomeMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if m.out == nil {
		return nil
	}
	enc.AddString("phase", m.out.Phase.String())
	enc.AddString("verdict", m.out.Verdict.String())
	enc.AddString("state", m.out.State.String())
	if !m.out.VetoedBy.IsZero() {
		enc.AddString("vetoed_by", m.out.VetoedBy.String())
	}
	return enc.AddArray("results", resultsMarshaler(m.out.Results))
}

type resultsMarshaler []lifecycle.HandlerResult

func (rs resultsMarshaler) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, r := range rs {
		if err := enc.AppendObject(resultMarshaler(r)); err != nil {
			return err
		}
	}
	return nil
}

type resultMarshaler lifecycle.HandlerResult

func (r resultMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("owner", r.Owner.String())
	enc.AddInt("priority", r.Priority)
	enc.AddString("status", r.Status.String())
	if r.Reason != "" {
		enc.AddString("reason", r.Reason)
	}
	if r.Err != nil {
		enc.AddString("error", RedactSensitiveData(r.Err.Error()))
	}
	return nil
}

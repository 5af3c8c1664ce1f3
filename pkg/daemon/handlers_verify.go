package daemon

import (
	"context"
	"encoding/json"

	"github.com/temporaldb/dbdaemon/pkg/types"
	"github.com/temporaldb/dbdaemon/pkg/verify"
)

type verifyStartParams struct {
	ID    types.TableID    `json:"id"`
	Range *types.TimeRange `json:"range,omitempty"`
}

// wireVerifyMsg is the JSON shape one verify.Msg is translated to for
// the wire, matching pkg/rpcclient.VerifyMsg field-for-field.
type wireVerifyMsg struct {
	Kind     string          `json:"kind"`
	Problem  json.RawMessage `json:"problem,omitempty"`
	Progress uint64          `json:"progress,omitempty"`
	Err      string          `json:"error,omitempty"`
}

func (k verifyMsgKind) String() string {
	switch verify.MsgKind(k) {
	case verify.MsgOverlap:
		return "overlap"
	case verify.MsgGap:
		return "gap"
	case verify.MsgProgress:
		return "progress"
	default:
		return "error"
	}
}

type verifyMsgKind verify.MsgKind

func toWireMsg(msg verify.Msg) (wireVerifyMsg, error) {
	out := wireVerifyMsg{
		Kind:     verifyMsgKind(msg.Kind).String(),
		Progress: msg.Progress,
		Err:      msg.Err,
	}
	if msg.Problem != nil {
		raw, err := json.Marshal(msg.Problem)
		if err != nil {
			return wireVerifyMsg{}, err
		}
		out.Problem = raw
	}
	return out, nil
}

type verifyNextResult struct {
	Messages []wireVerifyMsg `json:"messages"`
	Done     bool            `json:"done"`
}

func (d *Daemon) registerVerificationHandlers() {
	d.server.Handle("verify_table_data_start", handle(func(ctx context.Context, p verifyStartParams) (string, error) {
		guard, err := d.registry.ReadTable(p.ID)
		if err != nil {
			return "", err
		}
		guard.Release()
		return d.verifier.StartVerification(ctx, d.backend, p.ID, p.Range), nil
	}))

	d.server.Handle("verify_table_data_next", handle(func(ctx context.Context, verificationID string) (verifyNextResult, error) {
		msgs, done, err := d.verifier.Next(ctx, verificationID)
		if err != nil {
			return verifyNextResult{}, err
		}
		wireMsgs := make([]wireVerifyMsg, 0, len(msgs))
		for _, msg := range msgs {
			wm, err := toWireMsg(msg)
			if err != nil {
				return verifyNextResult{}, err
			}
			wireMsgs = append(wireMsgs, wm)
		}
		return verifyNextResult{Messages: wireMsgs, Done: done}, nil
	}))
}

package registry

import (
	"context"
	"fmt"

	"github.com/atlas-assistant/cortex/pkg/provider/embeddings"
	"github.com/atlas-assistant/cortex/pkg/provider/llm"
	"github.com/atlas-assistant/cortex/pkg/provider/stt"
	"github.com/atlas-assistant/cortex/pkg/provider/tts"
	"github.com/atlas-assistant/cortex/pkg/types"
)

// chatRole is the llm.Provider view of one chat role.
type chatRole struct {
	reg  *Registry
	role types.Role
}

var _ llm.Provider = (*chatRole)(nil)

// slot resolves the backing candidate list at call time, borrowing the
// standard list when the role has none of its own. Resolution per call
// means a role populated after startup is picked up without rewiring.
func (c *chatRole) slot() *slot[llm.Provider] {
	s := c.reg.chat[c.role]
	if s == nil || s.empty() {
		return c.reg.chat[types.RoleStandard]
	}
	return s
}

func (c *chatRole) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	// Fallover covers the stream start only; mid-stream failures surface
	// to the consumer as an early close.
	return call(ctx, c.reg, c.slot(), string(c.role)+" stream", func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

func (c *chatRole) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return call(ctx, c.reg, c.slot(), string(c.role)+" complete", func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens asks candidates in health order without retry or backoff;
// counting is local estimation for most backends and not worth the wait.
func (c *chatRole) CountTokens(messages []types.Message) (int, error) {
	cands := c.slot().ordered()
	if len(cands) == 0 {
		return 0, fmt.Errorf("registry: no provider registered for %s", c.role)
	}
	var lastErr error
	for _, cand := range cands {
		n, err := cand.value.CountTokens(messages)
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("registry: %s count tokens: %w", c.role, lastErr)
}

// Capabilities reports the first healthy candidate's capabilities. They
// drive prompt-budget decisions, so the answer tracks whichever backend
// would serve the next call.
func (c *chatRole) Capabilities() types.ModelCapabilities {
	cands := c.slot().ordered()
	if len(cands) == 0 {
		return types.ModelCapabilities{}
	}
	return cands[0].value.Capabilities()
}

// embedRole is the embeddings.Provider view of the embed role.
type embedRole struct {
	reg *Registry
}

var _ embeddings.Provider = (*embedRole)(nil)

func (e *embedRole) Embed(ctx context.Context, text string) ([]float32, error) {
	return call(ctx, e.reg, e.reg.embed, "embed", func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

func (e *embedRole) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return call(ctx, e.reg, e.reg.embed, "embed batch", func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

func (e *embedRole) Dimensions() int {
	cands := e.reg.embed.ordered()
	if len(cands) == 0 {
		return 0
	}
	return cands[0].value.Dimensions()
}

func (e *embedRole) ModelID() string {
	cands := e.reg.embed.ordered()
	if len(cands) == 0 {
		return ""
	}
	return cands[0].value.ModelID()
}

// ttsRole is the tts.Provider view of the tts role.
type ttsRole struct {
	reg *Registry
}

var _ tts.Provider = (*ttsRole)(nil)

func (t *ttsRole) SynthesizeStream(ctx context.Context, text <-chan string, req tts.SynthesisRequest) (<-chan []byte, error) {
	// Fallover covers stream establishment only. The text channel is
	// consumed by whichever candidate accepts the stream.
	return call(ctx, t.reg, t.reg.ttsSlot, "tts stream", func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, req)
	})
}

func (t *ttsRole) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return call(ctx, t.reg, t.reg.ttsSlot, "tts list voices", func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// CloneVoice trains on the first healthy backend. The clone is not
// replicated to fallbacks; a voice listed here may be absent after a
// fallover.
func (t *ttsRole) CloneVoice(ctx context.Context, name string, samples [][]byte) (*types.VoiceProfile, error) {
	cands := t.reg.ttsSlot.ordered()
	if len(cands) == 0 {
		return nil, fmt.Errorf("registry: no provider registered for tts clone")
	}
	return cands[0].value.CloneVoice(ctx, name, samples)
}

func (t *ttsRole) Capabilities() types.ModelCapabilities {
	cands := t.reg.ttsSlot.ordered()
	if len(cands) == 0 {
		return types.ModelCapabilities{}
	}
	return cands[0].value.Capabilities()
}

// sttRole is the stt.Provider view of the transcribe role.
type sttRole struct {
	reg *Registry
}

var _ stt.Provider = (*sttRole)(nil)

func (s *sttRole) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return call(ctx, s.reg, s.reg.sttSlot, "transcribe stream", func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

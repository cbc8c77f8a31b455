package speech

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
)

// Coordinator 保证朗读与听写互斥：
// - StartListening 总是打断正在进行的朗读
// - 新的 Speak 打断上一句
// - 听写期间的 Speak 被丢弃（返回 ErrListening）
type Coordinator struct {
	mu     sync.Mutex
	synth  Synthesizer
	rec    Recognizer
	mode   Mode
	gen    uint64
	cancel context.CancelFunc

	onResult    ResultFunc
	stopOnFinal bool
	logger      *log.Logger
}

type Option func(*Coordinator)

// WithLogger 指定日志输出
func WithLogger(l *log.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithContinuousListening 收到最终结果后不自动停止听写
func WithContinuousListening() Option {
	return func(c *Coordinator) { c.stopOnFinal = false }
}

// NewCoordinator synth 或 rec 可以为 nil，对应能力不可用
func NewCoordinator(synth Synthesizer, rec Recognizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		synth:       synth,
		rec:         rec,
		stopOnFinal: true,
		logger:      log.New(os.Stderr, "[Speech] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnResult 设置识别结果回调
func (c *Coordinator) OnResult(fn ResultFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResult = fn
}

// Mode 当前状态
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CanSpeak 是否配置了合成器
func (c *Coordinator) CanSpeak() bool {
	return c.synth != nil
}

// CanListen 是否配置了可用的识别器
func (c *Coordinator) CanListen() bool {
	return c.rec != nil && c.rec.Supported()
}

// Speak 朗读一句话，阻塞到结束。被打断时返回 ErrInterrupted。
func (c *Coordinator) Speak(ctx context.Context, text, voice string) error {
	if c.synth == nil {
		return ErrUnsupported
	}

	c.mu.Lock()
	if c.mode == ModeListening {
		c.mu.Unlock()
		c.logger.Printf("🔇 drop speak while listening")
		return ErrListening
	}
	interrupting := c.mode == ModeSpeaking
	if c.cancel != nil {
		c.cancel()
	}
	sctx, cancel := context.WithCancel(ctx)
	c.gen++
	gen := c.gen
	c.cancel = cancel
	c.mode = ModeSpeaking
	c.mu.Unlock()

	if interrupting {
		if err := c.synth.Stop(); err != nil {
			c.logger.Printf("⚠️ stop previous utterance: %v", err)
		}
	}

	err := c.synth.Speak(sctx, text, voice)

	c.mu.Lock()
	current := c.gen == gen
	if current {
		c.mode = ModeIdle
		c.cancel = nil
	}
	c.mu.Unlock()
	cancel()

	if !current && ctx.Err() == nil {
		return ErrInterrupted
	}
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return ErrInterrupted
	}
	return err
}

// StopSpeaking 停止当前朗读
func (c *Coordinator) StopSpeaking() error {
	c.mu.Lock()
	if c.mode != ModeSpeaking {
		c.mu.Unlock()
		return nil
	}
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mode = ModeIdle
	c.mu.Unlock()
	return c.synth.Stop()
}

// StartListening 开始听写，正在朗读时先打断
func (c *Coordinator) StartListening(ctx context.Context) error {
	if !c.CanListen() {
		return ErrUnsupported
	}

	c.mu.Lock()
	if c.mode == ModeListening {
		c.mu.Unlock()
		return nil
	}
	wasSpeaking := c.mode == ModeSpeaking
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mode = ModeListening
	c.mu.Unlock()

	if wasSpeaking {
		if err := c.synth.Stop(); err != nil {
			c.logger.Printf("⚠️ stop utterance before listening: %v", err)
		}
	}

	if err := c.rec.Start(ctx, c.handleResult); err != nil {
		c.mu.Lock()
		if c.mode == ModeListening {
			c.mode = ModeIdle
		}
		c.mu.Unlock()
		return err
	}
	c.logger.Printf("🎙️ listening")
	return nil
}

// StopListening 停止听写
func (c *Coordinator) StopListening() error {
	c.mu.Lock()
	if c.mode != ModeListening {
		c.mu.Unlock()
		return nil
	}
	c.mode = ModeIdle
	c.mu.Unlock()
	return c.rec.Stop()
}

// HandleResult 外部识别结果入口（例如前端上报的识别文本）
func (c *Coordinator) HandleResult(text string, final bool) {
	c.handleResult(text, final)
}

func (c *Coordinator) handleResult(text string, final bool) {
	c.mu.Lock()
	fn := c.onResult
	stop := final && c.stopOnFinal && c.mode == ModeListening
	if stop {
		c.mode = ModeIdle
	}
	c.mu.Unlock()

	if stop && c.rec != nil {
		if err := c.rec.Stop(); err != nil {
			c.logger.Printf("⚠️ stop recognizer after final result: %v", err)
		}
	}
	if fn != nil {
		fn(text, final)
	}
}

// Close 停止所有语音活动
func (c *Coordinator) Close() error {
	errSpeak := func() error {
		if c.synth == nil {
			return nil
		}
		return c.StopSpeaking()
	}()
	errListen := func() error {
		if c.rec == nil {
			return nil
		}
		return c.StopListening()
	}()
	return errors.Join(errSpeak, errListen)
}

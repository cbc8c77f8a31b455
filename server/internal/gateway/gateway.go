package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"care-talk/server/internal/config"
	"care-talk/server/internal/orchestrator"
	"care-talk/server/internal/speech"
)

const (
	busyNotice        = "Bitte warten Sie, die Antwort wird noch erstellt."
	maxClientFrame    = 8 << 20
	defaultAckTimeout = 60 * time.Second
)

var errClosed = errors.New("gateway closed")

// Config 网关配置
type Config struct {
	// SpeechMode off | client | openai
	SpeechMode string
	// NewSynthesizer openai 模式下的服务端合成器，音频经 sink 发给浏览器
	NewSynthesizer func(sink speech.AudioSink) speech.Synthesizer
	// Transcriber openai 模式下转写浏览器上传的音频
	Transcriber speech.Transcriber
	// AudioFormat 上传音频的格式（webm/wav…）
	AudioFormat string

	PingInterval time.Duration
	WriteTimeout time.Duration
	// AckTimeout 等待浏览器 tts_completed 的上限
	AckTimeout time.Duration

	Logger *log.Logger
}

// Gateway 一个学习者连接与一个会话编排器之间的 WebSocket 网关。
// 职责：
// 1. 客户端事件经 EventQueue 串行处理，提交放到队列之外执行
// 2. 把编排结果翻译成服务端事件
// 3. 语音：client 模式把朗读/听写指令转给浏览器，openai 模式在服务端合成与转写
type Gateway struct {
	sessionID string
	orch      *orchestrator.Orchestrator

	conn     *websocket.Conn
	connLock sync.Mutex
	seq      int64

	queue    *EventQueue
	speech   *speech.Coordinator
	buffered *speech.BufferedRecognizer

	// pendingTurns 正在进行的提交数；tts_play 等本轮结果发完再发出
	turnMu       sync.Mutex
	turnCond     *sync.Cond
	pendingTurns int

	playLock  sync.Mutex
	playbacks map[string]chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeChan chan struct{}

	config Config
	logger *log.Logger
}

// New 创建网关；Start 之后开始收发。
func New(orch *orchestrator.Orchestrator, conn *websocket.Conn, cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaultAckTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		sessionID: orch.SessionID(),
		orch:      orch,
		conn:      conn,
		playbacks: make(map[string]chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		closeChan: make(chan struct{}),
		config:    cfg,
		logger:    cfg.Logger,
	}
	g.turnCond = sync.NewCond(&g.turnMu)
	return g
}

// Start 建立语音协调器与事件队列，发送初始状态并启动读循环。
func (g *Gateway) Start() error {
	coordinator, err := g.buildSpeech()
	if err != nil {
		return fmt.Errorf("build speech: %w", err)
	}
	if coordinator != nil {
		coordinator.OnResult(g.onSpeechResult)
		g.speech = coordinator
		g.orch.SetSpeech(coordinator)
	}

	g.queue = NewEventQueue(g.sessionID, func(ctx context.Context, msg *ClientMessage) error {
		err := g.handleEvent(ctx, msg)
		if err != nil {
			g.sendError(err.Error())
		}
		return err
	}, g.logger)

	if err := g.sendState(); err != nil {
		g.Close()
		return fmt.Errorf("send initial state: %w", err)
	}

	go g.readLoop()
	go g.pingLoop()

	g.logger.Printf("[Gateway] ✅ started session=%s speech=%s", g.sessionID, g.config.SpeechMode)
	return nil
}

// Done 连接关闭后返回
func (g *Gateway) Done() <-chan struct{} {
	return g.closeChan
}

func (g *Gateway) buildSpeech() (*speech.Coordinator, error) {
	opts := []speech.Option{speech.WithLogger(g.logger)}
	switch g.config.SpeechMode {
	case "", config.SpeechOff:
		return nil, nil
	case config.SpeechClient:
		return speech.NewCoordinator(&clientSynthesizer{g: g}, &clientRecognizer{g: g}, opts...), nil
	case config.SpeechOpenAI:
		var synth speech.Synthesizer
		if g.config.NewSynthesizer != nil {
			synth = g.config.NewSynthesizer(&clientAudioSink{g: g})
		}
		var rec speech.Recognizer
		if g.config.Transcriber != nil {
			g.buffered = speech.NewBufferedRecognizer(g.config.Transcriber, g.config.AudioFormat, func(err error) {
				g.logger.Printf("[Gateway] ❌ transcription failed: %v", err)
				g.sendError("Die Spracherkennung ist fehlgeschlagen.")
			})
			rec = &serverRecognizer{BufferedRecognizer: g.buffered, g: g}
		}
		return speech.NewCoordinator(synth, rec, opts...), nil
	default:
		return nil, fmt.Errorf("unknown speech mode %q", g.config.SpeechMode)
	}
}

// readLoop 读取客户端帧：文本帧为事件，二进制帧为上传音频
func (g *Gateway) readLoop() {
	defer g.Close()

	pongWait := 2 * g.config.PingInterval
	g.conn.SetReadLimit(maxClientFrame)
	_ = g.conn.SetReadDeadline(time.Now().Add(pongWait))
	g.conn.SetPongHandler(func(string) error {
		return g.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := g.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Printf("[Gateway] client read error: %v", err)
			}
			return
		}
		_ = g.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			if err := g.dispatch(data); err != nil {
				g.logger.Printf("[Gateway] handle client event error: %v", err)
				g.sendError(err.Error())
			}
		case websocket.BinaryMessage:
			if g.buffered == nil {
				continue
			}
			if _, err := g.buffered.Write(data); err != nil {
				g.logger.Printf("[Gateway] buffer audio: %v", err)
			}
		}
	}
}

// dispatch tts_completed 直接确认，其余事件入队
func (g *Gateway) dispatch(data []byte) error {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal client message: %w", err)
	}
	if msg.ClientTS.IsZero() {
		msg.ClientTS = time.Now()
	}
	if msg.Type == EventTTSCompleted {
		g.ackPlayback(msg.PlaybackID)
		return nil
	}
	return g.queue.Enqueue(&msg)
}

// handleEvent 在队列协程中串行执行
func (g *Gateway) handleEvent(ctx context.Context, msg *ClientMessage) error {
	switch msg.Type {
	case EventHello:
		return g.sendState()

	case EventUserMessage:
		go g.submit(msg.Text)
		return nil

	case EventASRPartial, EventASRFinal:
		final := msg.Type == EventASRFinal
		if g.speech != nil {
			g.speech.HandleResult(msg.Text, final)
		} else {
			g.onSpeechResult(msg.Text, final)
		}
		return nil

	case EventUseSuggestion:
		res, err := g.orch.UseSuggestion(ctx, msg.Index)
		if err != nil {
			return g.reportInputError(err)
		}
		g.send(&ServerMessage{Type: EventSuggestion, Text: res.Phrase, Metadata: map[string]any{"checkpoint_index": res.CheckpointIndex}})
		if res.Completion != "" {
			g.send(&ServerMessage{Type: EventCompletion, Text: res.Completion})
		}
		return g.send(&ServerMessage{Type: EventState, State: res.State})

	case EventRestart:
		state, err := g.orch.Restart(ctx)
		if err != nil {
			return err
		}
		return g.send(&ServerMessage{Type: EventState, State: state})

	case EventSTTStart:
		if g.speech == nil {
			return speech.ErrUnsupported
		}
		// 听写期间的 ctx 与连接同生命周期
		return g.speech.StartListening(g.ctx)

	case EventSTTStop:
		if g.speech == nil {
			return speech.ErrUnsupported
		}
		return g.speech.StopListening()

	default:
		return fmt.Errorf("unknown event type %q", msg.Type)
	}
}

func (g *Gateway) onSpeechResult(text string, final bool) {
	if !final {
		g.send(&ServerMessage{Type: EventASRPartial, Text: text})
		return
	}
	go g.submit(text)
}

// submit 在队列之外执行，回复生成期间队列仍可处理 stt_* / restart 等事件
func (g *Gateway) submit(text string) {
	g.beginTurn()
	defer g.endTurn()

	res, err := g.orch.Submit(g.ctx, text)
	if err != nil {
		g.reportInputError(err)
		return
	}

	g.send(&ServerMessage{Type: EventUserTurn, Text: res.UserTurn.Text, Speaker: res.UserTurn.Speaker})
	if res.Feedback != "" {
		g.send(&ServerMessage{Type: EventLanguageFeedback, Text: res.Feedback})
	}
	if res.Escalation != nil {
		g.send(&ServerMessage{Type: EventEscalation, Escalation: res.Escalation})
	}
	if res.Reply != nil {
		g.send(&ServerMessage{
			Type:    EventAssistantText,
			Text:    res.Reply.Text,
			Speaker: res.ReplyTurn.Speaker,
			Metadata: map[string]any{
				"feedback":   res.Reply.Feedback,
				"suggestion": res.Reply.Suggestion,
				"tone":       string(res.Reply.Tone),
			},
		})
	}
	if res.Notice != "" {
		g.send(&ServerMessage{Type: EventNotice, Text: res.Notice})
	}
	if res.Completion != "" {
		g.send(&ServerMessage{Type: EventCompletion, Text: res.Completion})
	}
	if res.DialogueEnded != "" {
		g.send(&ServerMessage{Type: EventDialogueEnded, Text: res.DialogueEnded})
	}
	g.send(&ServerMessage{Type: EventState, State: res.State})
}

func (g *Gateway) beginTurn() {
	g.turnMu.Lock()
	g.pendingTurns++
	g.turnMu.Unlock()
}

func (g *Gateway) endTurn() {
	g.turnMu.Lock()
	g.pendingTurns--
	g.turnCond.Broadcast()
	g.turnMu.Unlock()
}

// waitTurns 等待进行中的提交把结果发完；ctx 取消或网关关闭时立即返回
func (g *Gateway) waitTurns(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		g.turnMu.Lock()
		g.turnCond.Broadcast()
		g.turnMu.Unlock()
	})
	defer stop()

	g.turnMu.Lock()
	defer g.turnMu.Unlock()
	for g.pendingTurns > 0 && g.ctx.Err() == nil && ctx.Err() == nil {
		g.turnCond.Wait()
	}
	return ctx.Err()
}

// reportInputError 输入类错误以提示形式返回，不断开连接
func (g *Gateway) reportInputError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrBlankInput):
		return nil
	case errors.Is(err, orchestrator.ErrBusy):
		return g.send(&ServerMessage{Type: EventNotice, Text: busyNotice})
	case errors.Is(err, orchestrator.ErrNotBlocked), errors.Is(err, orchestrator.ErrNoSuggestion):
		return g.sendError(err.Error())
	case errors.Is(err, context.Canceled):
		return nil
	default:
		g.logger.Printf("[Gateway] ❌ session=%s: %v", g.sessionID, err)
		return g.sendError("Interner Fehler.")
	}
}

func (g *Gateway) sendState() error {
	return g.send(&ServerMessage{Type: EventState, State: g.orch.Snapshot()})
}

func (g *Gateway) sendError(errMsg string) error {
	return g.send(&ServerMessage{Type: EventError, Error: errMsg})
}

// send 分配序号并写文本帧
func (g *Gateway) send(msg *ServerMessage) error {
	return g.sendLive(context.Background(), msg)
}

// sendLive 在连接锁内检查 ctx，已取消的播放不会排在随后的 stt_start 之后发出
func (g *Gateway) sendLive(ctx context.Context, msg *ServerMessage) error {
	if msg.ServerTS.IsZero() {
		msg.ServerTS = time.Now()
	}

	g.connLock.Lock()
	defer g.connLock.Unlock()
	if g.conn == nil {
		return errClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	g.seq++
	msg.Seq = g.seq

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal server message: %w", err)
	}
	_ = g.conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	if err := g.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to client: %w", err)
	}
	return nil
}

func (g *Gateway) sendBinary(data []byte) error {
	g.connLock.Lock()
	defer g.connLock.Unlock()
	if g.conn == nil {
		return errClosed
	}
	_ = g.conn.SetWriteDeadline(time.Now().Add(g.config.WriteTimeout))
	return g.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (g *Gateway) pingLoop() {
	ticker := time.NewTicker(g.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.closeChan:
			return
		case <-ticker.C:
			g.connLock.Lock()
			if g.conn != nil {
				_ = g.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			g.connLock.Unlock()
		}
	}
}

// Close 关闭网关：停止语音、队列，解除编排器绑定，最后关闭连接。
func (g *Gateway) Close() error {
	var closeErr error
	g.closeOnce.Do(func() {
		g.logger.Printf("[Gateway] closing session %s", g.sessionID)
		g.cancel()
		close(g.closeChan)
		g.turnMu.Lock()
		g.turnCond.Broadcast()
		g.turnMu.Unlock()

		g.orch.SetSpeech(nil)
		if g.speech != nil {
			if err := g.speech.Close(); err != nil {
				g.logger.Printf("[Gateway] stop speech: %v", err)
			}
		}
		if g.queue != nil {
			g.queue.Close()
		}

		g.connLock.Lock()
		defer g.connLock.Unlock()
		if g.conn == nil {
			return
		}
		_ = g.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		closeErr = g.conn.Close()
		g.conn = nil
	})
	return closeErr
}

package interrupt

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// ExitCode 第二次收到信号时的退出码
const ExitCode = 130

// Handler 信号处理器
// 第一次收到信号时取消 context，正在处理的主机会继续完成；第二次收到信号时立即退出。
type Handler struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *zap.SugaredLogger
	sigs   chan os.Signal
	done   chan struct{}
	once   sync.Once
	exit   func(code int)
}

// NewHandler 创建信号处理器
func NewHandler(parent context.Context, log *zap.SugaredLogger) *Handler {
	ctx, cancel := context.WithCancel(parent)
	return &Handler{
		ctx:    ctx,
		cancel: cancel,
		log:    log,
		sigs:   make(chan os.Signal, 2),
		done:   make(chan struct{}),
		exit:   os.Exit,
	}
}

// Context 返回收到信号后被取消的 context
func (h *Handler) Context() context.Context {
	return h.ctx
}

// Start 开始监听信号
func (h *Handler) Start() {
	signal.Notify(h.sigs, syscall.SIGINT, syscall.SIGTERM)
	go h.loop()
}

// Stop 停止监听并释放 context
func (h *Handler) Stop() {
	h.once.Do(func() {
		signal.Stop(h.sigs)
		close(h.done)
		h.cancel()
	})
}

func (h *Handler) loop() {
	select {
	case sig := <-h.sigs:
		h.log.Warnw("收到信号，当前主机处理完成后停止", "signal", sig.String())
		h.cancel()
	case <-h.done:
		return
	}

	select {
	case sig := <-h.sigs:
		h.log.Errorw("再次收到信号，立即退出", "signal", sig.String())
		h.exit(ExitCode)
	case <-h.done:
	}
}

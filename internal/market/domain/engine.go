package domain

import (
	"context"
	"fmt"
	"sync"
)

// MatchTask 定序队列中的任务单元
type MatchTask struct {
	Fn         func(book *OrderBook) error
	ResultChan chan error
}

// Engine 单市场撮合 Worker，所有对订单簿的读写都经由任务队列串行执行
type Engine struct {
	marketID int64
	book     *OrderBook
	tasks    chan MatchTask
	stopChan chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewEngine 创建并启动撮合 Worker
func NewEngine(marketID int64, queueSize int) *Engine {
	if queueSize <= 0 {
		queueSize = 1024
	}
	e := &Engine{
		marketID: marketID,
		book:     NewOrderBook(marketID),
		tasks:    make(chan MatchTask, queueSize),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) MarketID() int64 { return e.marketID }

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.stopChan:
			return
		case task := <-e.tasks:
			task.ResultChan <- e.exec(task.Fn)
		}
	}
}

func (e *Engine) exec(fn func(*OrderBook) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: market %d worker panic: %v", ErrInvariantViolation, e.marketID, r)
		}
	}()
	return fn(e.book)
}

// Do 提交任务并等待执行结果，已入队的任务不受 ctx 取消影响
func (e *Engine) Do(ctx context.Context, fn func(book *OrderBook) error) error {
	task := MatchTask{Fn: fn, ResultChan: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopChan:
		return ErrEngineStopped
	case e.tasks <- task:
	}
	select {
	case err := <-task.ResultChan:
		return err
	case <-e.done:
		select {
		case err := <-task.ResultChan:
			return err
		default:
			return ErrEngineStopped
		}
	}
}

// Stop 停止 Worker，等待当前任务完成
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopChan) })
	<-e.done
}

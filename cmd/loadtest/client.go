package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/service/httpapi"
	"github.com/vladislavdragonenkov/orders/internal/service/orders"
)

const (
	opCreateOrder  = "CreateOrder"
	opUpdateStatus = "UpdateOrderStatus"
)

// callError: вызов API не удался; code уходит в статистику сценария.
type callError struct {
	op   string
	code int
	err  error
}

func (e *callError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *callError) Unwrap() error { return e.err }

// scenarioCode: код, под которым сценарий попадает в отчёт.
func scenarioCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ce *callError
	if errors.As(err, &ce) {
		return ce.code
	}
	return noResponse
}

type call struct {
	op             string
	method         string
	path           string
	body           any
	idempotencyKey string
	want           int
	out            any
}

// apiClient ходит в HTTP API заказов и пишет каждый вызов в rec.
type apiClient struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	rec     *recorder
}

func (c *apiClient) createOrder(ctx context.Context, req orders.CreateOrderRequest, key string) (int64, error) {
	var view httpapi.OrderView
	err := c.do(ctx, call{
		op:             opCreateOrder,
		method:         http.MethodPost,
		path:           "/api/orders",
		body:           req,
		idempotencyKey: key,
		want:           http.StatusCreated,
		out:            &view,
	})
	if err != nil {
		return 0, err
	}
	if view.ID <= 0 {
		return 0, &callError{op: opCreateOrder, code: http.StatusInternalServerError, err: errors.New("response carries no order id")}
	}
	return view.ID, nil
}

func (c *apiClient) updateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	return c.do(ctx, call{
		op:     opUpdateStatus,
		method: http.MethodPatch,
		path:   "/api/orders/" + strconv.FormatInt(orderID, 10) + "/status",
		body:   orders.UpdateOrderStatusRequest{Status: string(status)},
		want:   http.StatusOK,
	})
}

func (c *apiClient) do(ctx context.Context, cl call) error {
	payload, err := json.Marshal(cl.body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", cl.op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", cl.op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cl.idempotencyKey != "" {
		req.Header.Set(httpapi.HeaderIdempotencyKey, cl.idempotencyKey)
	}

	start := time.Now()
	code, err := c.send(req, cl)
	c.rec.observe(cl.op, time.Since(start), code)
	if err != nil {
		return &callError{op: cl.op, code: code, err: err}
	}
	return nil
}

// send возвращает код для статистики: неожиданный 2xx и нечитаемое тело считаются 500.
func (c *apiClient) send(req *http.Request, cl call) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return noResponse, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != cl.want {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if succeeded(resp.StatusCode) {
			return http.StatusInternalServerError, err
		}
		return resp.StatusCode, err
	}
	if cl.out != nil {
		if err := json.NewDecoder(resp.Body).Decode(cl.out); err != nil {
			return http.StatusInternalServerError, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

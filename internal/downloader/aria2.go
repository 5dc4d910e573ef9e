package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bgdownloader/internal/config"
)

// statusKeys limits tellStatus/tellActive/... responses to what we map.
var statusKeys = []string{"gid", "status", "totalLength", "completedLength", "errorCode", "errorMessage", "files", "dir"}

// Aria2Client drives an aria2 daemon over JSON-RPC.
type Aria2Client struct {
	RPCUrl  string
	Secret  string
	Client  *http.Client
	limiter *rate.Limiter
	nextID  atomic.Int64
	logger  zerolog.Logger
}

func NewClient(cfg config.Aria2Config) *Aria2Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Aria2Client{
		RPCUrl:  cfg.RPCUrl,
		Secret:  cfg.Secret,
		Client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 10),
		logger:  zerolog.Nop(),
	}
}

// SetLogger sets the logger used for best-effort cleanup failures.
func (c *Aria2Client) SetLogger(logger zerolog.Logger) {
	c.logger = logger.With().Str("component", "aria2").Logger()
}

type JsonRpcRequest struct {
	JsonRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	ID      string        `json:"id"`
	Params  []interface{} `json:"params"`
}

type JsonRpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *JsonRpcError   `json:"error,omitempty"`
}

type JsonRpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *JsonRpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes an aria2 method and decodes its result into out (which may be nil).
func (c *Aria2Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	// If secret is set, it must be the first parameter as "token:secret"
	finalParams := make([]interface{}, 0, len(params)+1)
	if c.Secret != "" {
		finalParams = append(finalParams, "token:"+c.Secret)
	}
	finalParams = append(finalParams, params...)

	reqBody := JsonRpcRequest{
		JsonRPC: "2.0",
		Method:  method,
		ID:      strconv.FormatInt(c.nextID.Add(1), 10),
		Params:  finalParams,
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCUrl, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp JsonRpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}

	if rpcResp.Error != nil {
		if strings.Contains(rpcResp.Error.Message, "is not found") {
			return fmt.Errorf("%s: %w", method, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// Version returns the daemon version; used as a connectivity probe.
func (c *Aria2Client) Version(ctx context.Context) (string, error) {
	var res struct {
		Version string `json:"version"`
	}
	if err := c.Call(ctx, "aria2.getVersion", &res); err != nil {
		return "", err
	}
	return res.Version, nil
}

// Enqueue submits req via aria2.addUri and returns the GID.
func (c *Aria2Client) Enqueue(ctx context.Context, req Request) (string, error) {
	opts := map[string]interface{}{
		"dir": req.Dir,
		"out": req.Out,
	}

	headerList := []string{}
	for k, v := range req.Headers {
		headerList = append(headerList, fmt.Sprintf("%s: %s", k, v))
	}
	if len(headerList) > 0 {
		opts["header"] = headerList
	}
	if req.Connections > 0 {
		n := strconv.Itoa(req.Connections)
		opts["max-connection-per-server"] = n
		opts["split"] = n
	}
	if req.MaxSpeedBytes > 0 {
		opts["max-download-limit"] = strconv.FormatInt(req.MaxSpeedBytes, 10)
	}
	if req.Paused {
		opts["pause"] = "true"
	}

	var gid string
	if err := c.Call(ctx, "aria2.addUri", &gid, []string{req.URL}, opts); err != nil {
		return "", err
	}
	if gid == "" {
		return "", fmt.Errorf("aria2.addUri: empty gid")
	}
	return gid, nil
}

type aria2File struct {
	Path string `json:"path"`
}

type aria2Status struct {
	Gid             string      `json:"gid"`
	Status          string      `json:"status"`
	TotalLength     string      `json:"totalLength"`
	CompletedLength string      `json:"completedLength"`
	ErrorCode       string      `json:"errorCode"`
	ErrorMessage    string      `json:"errorMessage"`
	Dir             string      `json:"dir"`
	Files           []aria2File `json:"files"`
}

func (s aria2Status) toStatus() Status {
	st := Status{
		Handle:          s.Gid,
		State:           mapState(s.Status),
		BytesDownloaded: parseInt(s.CompletedLength),
		BytesTotal:      parseInt(s.TotalLength),
	}
	if len(s.Files) > 0 {
		st.ResultLocation = s.Files[0].Path
	}
	if st.State == StateFailed {
		st.ReasonCode = int(parseInt(s.ErrorCode))
		st.ReasonText = s.ErrorMessage
		if st.ReasonText == "" && s.Status == "removed" {
			st.ReasonText = "download removed"
		}
	}
	return st
}

func mapState(aria2Status string) State {
	switch aria2Status {
	case "active":
		return StateRunning
	case "paused":
		return StatePaused
	case "error", "removed":
		return StateFailed
	case "complete":
		return StateSucceeded
	default:
		return StatePending
	}
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

// Status queries a single download via aria2.tellStatus.
func (c *Aria2Client) Status(ctx context.Context, gid string) (*Status, error) {
	var res aria2Status
	if err := c.Call(ctx, "aria2.tellStatus", &res, gid, statusKeys); err != nil {
		return nil, err
	}
	st := res.toStatus()
	if st.Handle == "" {
		st.Handle = gid
	}
	return &st, nil
}

// List returns every download aria2 knows about: active, waiting and stopped.
func (c *Aria2Client) List(ctx context.Context) ([]Status, error) {
	var active, waiting, stopped []aria2Status

	if err := c.Call(ctx, "aria2.tellActive", &active, statusKeys); err != nil {
		return nil, err
	}
	if err := c.Call(ctx, "aria2.tellWaiting", &waiting, 0, 1000, statusKeys); err != nil {
		return nil, err
	}
	if err := c.Call(ctx, "aria2.tellStopped", &stopped, 0, 1000, statusKeys); err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(active)+len(waiting)+len(stopped))
	for _, list := range [][]aria2Status{active, waiting, stopped} {
		for _, s := range list {
			statuses = append(statuses, s.toStatus())
		}
	}
	return statuses, nil
}

// Cancel stops the download if it is still active and drops it from aria2's
// result history so it is not listed again.
func (c *Aria2Client) Cancel(ctx context.Context, gid string) error {
	err := c.Call(ctx, "aria2.forceRemove", nil, gid)
	if err == nil {
		// forceRemove is asynchronous, so this usually fails for a download
		// that was still active. The stopped entry is then removed as an
		// orphan by the next enumeration.
		if err := c.Call(ctx, "aria2.removeDownloadResult", nil, gid); err != nil {
			c.logger.Debug().Err(err).Str("gid", gid).Msg("Download result not removed yet")
		}
		return nil
	}
	// forceRemove only works for active/waiting downloads
	return c.Call(ctx, "aria2.removeDownloadResult", nil, gid)
}

func (c *Aria2Client) Pause(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.forcePause", nil, gid)
}

func (c *Aria2Client) Resume(ctx context.Context, gid string) error {
	return c.Call(ctx, "aria2.unpause", nil, gid)
}

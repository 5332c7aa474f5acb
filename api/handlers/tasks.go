package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/taskengine/api"
	"github.com/BaSui01/taskengine/loopguard"
	"github.com/BaSui01/taskengine/task"
	"github.com/BaSui01/taskengine/taskcache"
	"github.com/BaSui01/taskengine/types"
)

// =============================================================================
// 📋 任务 Handler
// =============================================================================

// TaskService 任务处理器依赖的引擎能力
type TaskService interface {
	Create(ctx context.Context, in task.CreateInput) (*task.Created, error)
	Run(ctx context.Context, id string, opts task.RunOptions) (*task.Result, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, filter task.Filter) ([]*task.Task, int64, error)
	CacheStats() taskcache.Stats
	Backends() []string
}

// TaskHandler 任务 CRUD 与执行处理器
type TaskHandler struct {
	service TaskService
	logger  *zap.Logger
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(service TaskService, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		service: service,
		logger:  logger.With(zap.String("component", "task_handler")),
	}
}

// Register 挂载任务路由
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/tasks", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/tasks", h.HandleList)
	mux.HandleFunc("GET /api/v1/tasks/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/tasks/{id}/run", h.HandleRun)
	mux.HandleFunc("GET /api/v1/stats", h.HandleCacheStats)
}

// HandleCreate 创建任务
// @Summary Create task
// @Tags task
// @Accept json
// @Produce json
// @Param request body api.CreateTaskRequest true "Task"
// @Param X-Task-Context header string false "Caller loop context (JSON)"
// @Success 201 {object} Response{data=task.Created}
// @Failure 400 {object} Response
// @Failure 409 {object} Response "Loop rejected"
// @Failure 413 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/tasks [post]
func (h *TaskHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.CreateTaskRequest
	if err := DecodeJSONBody(w, r, &req, false, h.logger); err != nil {
		return
	}

	loopCtx, err := h.loopContext(r, req.Context)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	origin := req.OriginClient
	if origin == "" {
		origin = r.Header.Get(HeaderOriginClient)
	}

	created, err := h.service.Create(r.Context(), task.CreateInput{
		Type:         req.Type,
		Payload:      req.Payload,
		Engine:       req.Engine,
		Priority:     req.Priority,
		TTLHours:     req.TTLHours,
		Context:      loopCtx,
		OriginClient: origin,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteStatus(w, http.StatusCreated, created)
}

// HandleRun 执行任务；执行失败时返回 200 且 data.status 为 failed
// @Summary Run task
// @Tags task
// @Accept json
// @Produce json
// @Param id path string true "Task ID"
// @Param request body api.RunTaskRequest false "Run options"
// @Success 200 {object} Response{data=task.Result}
// @Failure 404 {object} Response
// @Failure 409 {object} Response "Already running, completed, or loop rejected"
// @Failure 410 {object} Response "Expired"
// @Security ApiKeyAuth
// @Router /api/v1/tasks/{id}/run [post]
func (h *TaskHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task id is required", h.logger)
		return
	}

	var req api.RunTaskRequest
	if r.ContentLength != 0 && r.Header.Get("Content-Type") != "" {
		if !ValidateContentType(w, r, h.logger) {
			return
		}
	}
	if err := DecodeJSONBody(w, r, &req, true, h.logger); err != nil {
		return
	}

	loopCtx, err := h.loopContext(r, req.LoopContext)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	res, err := h.service.Run(r.Context(), id, task.RunOptions{
		EngineOverride: req.EngineOverride,
		TimeoutMs:      req.TimeoutMs,
		LoopContext:    loopCtx,
		SkipCache:      req.SkipCache,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, res)
}

// HandleGet 查询任务
// @Summary Get task
// @Tags task
// @Produce json
// @Param id path string true "Task ID"
// @Success 200 {object} Response{data=task.Task}
// @Failure 404 {object} Response
// @Failure 410 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/tasks/{id} [get]
func (h *TaskHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := taskID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task id is required", h.logger)
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	WriteSuccess(w, t)
}

// HandleList 分页列出任务
// @Summary List tasks
// @Tags task
// @Produce json
// @Param status query string false "Status filter"
// @Param engine query string false "Engine filter"
// @Param type query string false "Type filter"
// @Param origin_client query string false "Origin client filter"
// @Param limit query int false "Page size (1-100)"
// @Param offset query int false "Offset"
// @Success 200 {object} Response{data=api.ListTasksResponse}
// @Failure 400 {object} Response
// @Security ApiKeyAuth
// @Router /api/v1/tasks [get]
func (h *TaskHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := task.Filter{
		Status:       task.Status(q.Get("status")),
		Engine:       q.Get("engine"),
		Type:         task.Type(q.Get("type")),
		OriginClient: q.Get("origin_client"),
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "limit must be an integer").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		WriteError(w, types.NewError(types.ErrInvalidRequest, "offset must be an integer").WithHTTPStatus(http.StatusBadRequest), h.logger)
		return
	}

	// 引擎侧也会规范化，这里提前做一次以便回显分页参数
	filter, err = filter.Normalize()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	tasks, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}

	WriteSuccess(w, api.ListTasksResponse{
		Tasks:  tasks,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleCacheStats 返回结果缓存统计与已注册后端
// @Summary Cache statistics
// @Tags task
// @Produce json
// @Success 200 {object} Response{data=api.CacheStatsResponse}
// @Security ApiKeyAuth
// @Router /api/v1/stats [get]
func (h *TaskHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, api.CacheStatsResponse{
		Cache:    h.service.CacheStats(),
		Backends: h.service.Backends(),
	})
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// loopContext 解析调用链上下文；请求体字段优先于 X-Task-Context 头
func (h *TaskHandler) loopContext(r *http.Request, body []byte) (*loopguard.Context, error) {
	raw := body
	if len(raw) == 0 || string(raw) == "null" {
		header := strings.TrimSpace(r.Header.Get(HeaderTaskContext))
		if header == "" {
			return nil, nil
		}
		raw = []byte(header)
	}

	c, err := loopguard.ParseContext(raw)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func taskID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

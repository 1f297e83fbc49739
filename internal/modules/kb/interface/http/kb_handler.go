package handler

import (
	"os"
	"path/filepath"
	"strconv"

	kbRequest "KnowBase/internal/modules/kb/application/dto/request"
	"KnowBase/internal/modules/kb/application/service"
	"KnowBase/pkg/back"
	"KnowBase/pkg/util"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type KBHandler struct {
	svc       service.KBService
	genSvc    service.GenerationService
	kgSvc     service.KGService
	uploadDir string
}

func NewKBHandler(svc service.KBService, genSvc service.GenerationService, kgSvc service.KGService, uploadDir string) *KBHandler {
	return &KBHandler{svc: svc, genSvc: genSvc, kgSvc: kgSvc, uploadDir: uploadDir}
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		back.Error(c, xerr.BadRequest, "无效的 id")
		return 0, false
	}
	return id, true
}

func (h *KBHandler) Create(c *gin.Context) {
	var req kbRequest.CreateKBRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Create(c.Request.Context(), req)
	back.Result(c, data, err)
}

func (h *KBHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	data, err := h.svc.Get(c.Request.Context(), id)
	back.Result(c, data, err)
}

func (h *KBHandler) List(c *gin.Context) {
	data, err := h.svc.List(c.Request.Context())
	back.Result(c, data, err)
}

func (h *KBHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req kbRequest.UpdateKBRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Update(c.Request.Context(), id, req)
	back.Result(c, data, err)
}

func (h *KBHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.svc.Delete(c.Request.Context(), id)
	back.Result(c, gin.H{"id": id}, err)
}

// Upload 接收 multipart 源文件（归档或普通文件均可），落盘后绑定到
// 知识库。文件名用 uuid 前缀避免覆盖同名上传。
func (h *KBHandler) Upload(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		back.Error(c, xerr.BadRequest, "缺少上传文件")
		return
	}
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		zlog.Error("create upload dir failed", zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}
	dest := filepath.Join(h.uploadDir, util.GenerateShortUUID()+"_"+filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, dest); err != nil {
		zlog.Error("save uploaded file failed", zap.Error(err))
		back.Error(c, xerr.InternalServerError, xerr.ErrServerError.Message)
		return
	}

	abs, err := filepath.Abs(dest)
	if err != nil {
		abs = dest
	}
	data, err := h.svc.AttachSourceFile(c.Request.Context(), id, abs)
	back.Result(c, data, err)
}

func (h *KBHandler) StartParsing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req kbRequest.StartParsingRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.StartParsing(c.Request.Context(), id, req)
	back.Result(c, data, err)
}

func (h *KBHandler) CancelParsing(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	data, err := h.svc.CancelParsing(c.Request.Context(), id)
	back.Result(c, data, err)
}

func (h *KBHandler) GenerateSummary(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req kbRequest.GenerateSummaryRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.genSvc.GenerateSummary(c.Request.Context(), id, req.GenerationModelId)
	back.Result(c, data, err)
}

func (h *KBHandler) GenerateGraph(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req kbRequest.GenerateGraphRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.kgSvc.GenerateGraph(c.Request.Context(), id, req.GenerationModelId)
	back.Result(c, data, err)
}

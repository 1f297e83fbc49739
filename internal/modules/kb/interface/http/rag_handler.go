package handler

import (
	kbRequest "KnowBase/internal/modules/kb/application/dto/request"
	"KnowBase/internal/modules/kb/application/service"
	"KnowBase/pkg/back"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type RAGHandler struct {
	svc service.RAGService
}

func NewRAGHandler(svc service.RAGService) *RAGHandler {
	return &RAGHandler{svc: svc}
}

func (h *RAGHandler) Query(c *gin.Context) {
	var req kbRequest.RagQueryRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Query(c.Request.Context(), req)
	back.Result(c, data, err)
}

func (h *RAGHandler) Retrieve(c *gin.Context) {
	var req kbRequest.RagRetrieveRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Retrieve(c.Request.Context(), req)
	back.Result(c, data, err)
}

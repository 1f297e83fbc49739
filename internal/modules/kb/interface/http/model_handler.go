package handler

import (
	kbRequest "KnowBase/internal/modules/kb/application/dto/request"
	"KnowBase/internal/modules/kb/application/service"
	"KnowBase/pkg/back"
	"KnowBase/pkg/xerr"
	"KnowBase/pkg/zlog"

	"github.com/gin-gonic/gin"
)

type ModelHandler struct {
	svc service.ModelService
}

func NewModelHandler(svc service.ModelService) *ModelHandler {
	return &ModelHandler{svc: svc}
}

func (h *ModelHandler) Create(c *gin.Context) {
	var req kbRequest.CreateModelRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Create(c.Request.Context(), req)
	back.Result(c, data, err)
}

func (h *ModelHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	data, err := h.svc.Get(c.Request.Context(), id)
	back.Result(c, data, err)
}

func (h *ModelHandler) List(c *gin.Context) {
	data, err := h.svc.List(c.Request.Context())
	back.Result(c, data, err)
}

func (h *ModelHandler) Update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req kbRequest.UpdateModelRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	data, err := h.svc.Update(c.Request.Context(), id, req)
	back.Result(c, data, err)
}

func (h *ModelHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	err := h.svc.Delete(c.Request.Context(), id)
	back.Result(c, gin.H{"id": id}, err)
}

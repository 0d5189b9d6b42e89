/*
Copyright 2024 Stamp Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	model2 "github.com/stamp-registry/stamp/api/model"
)

func (a Api) CreateRecipient(c *gin.Context) {
	var newRecipient model2.CreateRecipient
	if err := c.ShouldBindJSON(&newRecipient); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newRecipient.ValidateCreateRecipient()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.stamp.CreateRecipient(c.Request.Context(), newRecipient.ToRecipient())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model2.CreateRecipientResponse{ID: resp.ID})
}

func (a Api) GetRecipient(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid uuid"})
		return
	}

	resp, err := a.stamp.GetRecipient(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

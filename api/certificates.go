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
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stamp-registry/stamp"
	model2 "github.com/stamp-registry/stamp/api/model"
	"github.com/stamp-registry/stamp/model"
)

// IssueCertificate accepts an issuance intent. The certificate is issued
// asynchronously, so a success answers 202.
func (a Api) IssueCertificate(c *gin.Context) {
	var req model2.IssueCertificate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := req.ValidateIssueCertificate()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	params, err := req.ToCertificateParams()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	cert, err := a.stamp.IssueCertificate(c.Request.Context(), stamp.IssueRequest{RecipientID: req.RecipientID, Certificate: params})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, model2.IssueCertificateResponse{
		CertificateID: cert.ID,
		RegistryName:  cert.RegistryName,
		IssuedState:   cert.IssuedState.String(),
	})
}

func (a Api) GetCertificate(c *gin.Context) {
	registryName := c.Param("registry")
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid uuid"})
		return
	}

	resp, err := a.stamp.GetCertificate(c.Request.Context(), registryName, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) WithdrawCertificate(c *gin.Context) {
	registryName := c.Param("registry")
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a valid uuid"})
		return
	}

	withdrawn, err := a.stamp.WithdrawCertificate(c.Request.Context(), registryName, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, model2.NewWithdrawnCertificateResponse(withdrawn))
}

// GetWithdrawnCertificates lists withdrawals after lastWithdrawnId. A missing
// limit returns everything past the cursor; limit=0 returns no rows.
func (a Api) GetWithdrawnCertificates(c *gin.Context) {
	lastWithdrawnID, err := intQuery(c, "lastWithdrawnId", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lastWithdrawnId must be an integer"})
		return
	}
	skip, err := intQuery(c, "skip", 0)
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "skip must be a non negative integer"})
		return
	}
	limit, err := intQuery(c, "limit", model.NoLimit)
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non negative integer"})
		return
	}

	page, err := a.stamp.GetWithdrawnCertificates(c.Request.Context(), lastWithdrawnID, skip, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model2.NewWithdrawnResultList(page))
}

func intQuery(c *gin.Context, key string, missing int) (int, error) {
	value, ok := c.GetQuery(key)
	if !ok || value == "" {
		return missing, nil
	}
	return strconv.Atoi(value)
}

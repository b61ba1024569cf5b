package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const maxPageLimit = 100

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Skip  int `json:"-"`
}

// GetPagination reads page and limit from the query string.
func GetPagination(c *gin.Context) Pagination {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	return Pagination{
		Page:  page,
		Limit: limit,
		Skip:  (page - 1) * limit,
	}
}

// TotalPages rounds up total/limit.
func (p Pagination) TotalPages(total int64) int64 {
	if total == 0 {
		return 0
	}
	return (total + int64(p.Limit) - 1) / int64(p.Limit)
}

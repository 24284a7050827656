package httputil

import "github.com/gin-gonic/gin"

// Success messages.
const (
	DataRetrieved = "Data retrieved successfully"
	DataCreated   = "Data created successfully"
	DataUpdated   = "Data updated successfully"
	DataDeleted   = "Data deleted successfully"
)

// Error messages.
const (
	InvalidParameter = "Invalid parameter"
	NotFound         = "Not found"
)

// Success returns a simple success message body.
func Success(message string) gin.H {
	return gin.H{
		"success": true,
		"message": message,
	}
}

// SuccessWithCount returns a success body carrying a count.
func SuccessWithCount(message string, count int) gin.H {
	return gin.H{
		"success": true,
		"message": message,
		"count":   count,
	}
}

package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"autotrade/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers.
//
// Перехватывает panic в HTTP handlers и предотвращает падение всего
// сервера: логирует ошибку со stack trace и возвращает клиенту 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Error("Panic in HTTP handler",
					utils.Any("panic", err),
					utils.String("path", r.URL.Path),
					utils.String("method", r.Method),
					utils.String("stack", string(debug.Stack())))

				http.Error(
					w,
					fmt.Sprintf("Internal Server Error: %v", err),
					http.StatusInternalServerError,
				)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

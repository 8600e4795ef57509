// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          Handler с DI (хранилища, writer, presence, limiter, logger)
//   - routes.go           регистрация маршрутов
//   - middleware.go       request id, логирование с метриками, recovery
//   - ratelimit.go        ограничение частоты на Redis
//   - response.go         унифицированные JSON-ответы и обработка ошибок
//   - dto.go              Data Transfer Objects (request/response)
//   - message_handler.go  обработчики для /messages и истории комнат
//   - presence_handler.go присутствие в комнатах
//   - schedule_handler.go обработчики для /schedules
//
// API принимает сообщения и управляет отложенной доставкой.
package api

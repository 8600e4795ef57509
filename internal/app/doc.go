// Package app общий запуск процессов: конфиг и логгер, подключение к
// PostgreSQL, Redis и RabbitMQ с повторами, HTTP-сервер с остановкой по ctx.
package app

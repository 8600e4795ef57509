// Package config загружает конфигурацию процессов: значения по умолчанию,
// затем YAML-файл, затем переменные окружения CHAT_* (вложенность через "__").
package config

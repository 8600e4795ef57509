// Package session реестр живых клиентских соединений процесса.
//
// Registry индексирует сессии по id, комнате и пользователю и безопасен для
// одновременных Register, Remove и поиска. RedisPresence, подключённый как
// Listener, дублирует метаданные сессий в Redis для счётчиков присутствия
// по всем экземплярам.
package session

// Package broadcast доставляет события комнат в локальные сессии процесса.
//
// Dispatcher подписывается на шину через HandleBusMessage и рассылает
// каждое событие всем активным сессиям комнаты из топика. Сессии, в которые
// не удалось отправить, выселяются из реестра.
package broadcast

// Package scheduler выполняет правила расписания сообщений.
//
// Coordinator периодически находит правила с наступившим next_fire_at
// и выполняет каждое не более одного раза на весь кластер.
//
// Структура:
//   - coordinator.go: Coordinator (Run, Tick, Execute)
//   - cron.go: разбор cron-выражений и вычисление следующего слота
//
// Использование:
//
//	coord := scheduler.New(scheduler.Config{
//	    Store:  repo.NewScheduleRepo(pool),
//	    Locker: lock.NewRedisLocker(rdb, lock.Options{Prefix: lock.SchedulePrefix}),
//	    Writer: message.NewWriter(message.WriterConfig{Store: repo.NewMessageRepo(pool)}),
//	    Logger: logger,
//	})
//	go coord.Run(ctx)
//
// Leader election не нужен: все экземпляры опрашивают одинаково,
// дубли отсекают блокировка правила и ключ идемпотентности слота.
package scheduler

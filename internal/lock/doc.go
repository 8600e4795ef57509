// Package lock реализует распределённую блокировку с арендой поверх Redis.
//
// Блокировка захватывается атомарным SET NX PX: ключ либо свободен и
// занимается с истечением через lease, либо занят и захват не удаётся.
// Аренда истекает безусловно, поэтому упавший держатель не блокирует
// ресурс дольше lease.
//
// Unlock снимает блокировку только если в ключе лежит токен этого захвата,
// так что держатель с истёкшей арендой не снимет чужую блокировку.
// Ошибки Unlock только логируются.
//
// Пример:
//
//	locker := lock.NewRedisLocker(client, lock.Options{Prefix: lock.SchedulePrefix})
//	ok, err := locker.TryLock(ctx, scheduleID.String(), 5*time.Minute)
//	if err != nil || !ok {
//	    return // другой экземпляр уже выполняет
//	}
//	defer locker.Unlock(context.Background(), scheduleID.String())
package lock

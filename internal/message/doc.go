// Package message создаёт сообщения чата вместе с outbox-событием.
//
// Writer проверяет содержимое через Registry обработчиков типов и
// передаёт сообщение и событие в Store одной транзакцией.
//
//	w := message.NewWriter(message.WriterConfig{
//	    Store:  repo.NewMessageRepo(pool),
//	    Logger: logger,
//	})
//	msg, err := w.Write(ctx, message.Request{
//	    RoomID:   "room-1",
//	    SenderID: "user-1",
//	    Type:     domain.MessageTypeText,
//	    Content:  json.RawMessage(`{"text":"hi"}`),
//	})
package message

package ws

import "context"

type IHub interface {
	Run(ctx context.Context)
	RegisterClient(client *UserClient)
	UnregisterClient(client *UserClient)
	Subscribe(client *UserClient, chatId string)
	Unsubscribe(client *UserClient, chatId string)
	PublishToChat(chatId string, message []byte)
	SendToUser(userId string, message []byte)
	GetClientCount() int
	SetOnClientRegister(callback func(client *UserClient) error)
	SetOnClientUnregister(callback func(client *UserClient) error)
}

package tasks

import (
	"eventpay_echo/internal/services"
)

// Dependencies are the services task handlers talk to
type Dependencies struct {
	Payments *services.PaymentService
	Email    services.EmailSender
	Whatsapp services.WhatsappSender
}

// DefineTasks wires the task singletons and registers them
func DefineTasks(deps Dependencies) {
	SendNotificationTask.email = deps.Email
	SendNotificationTask.whatsapp = deps.Whatsapp
	ExpirePendingPaymentsTask.payments = deps.Payments

	RegisterHandler(SendNotificationTask.TaskID(), SendNotificationTask.HandleExecution)
	RegisterHandler(ExpirePendingPaymentsTask.TaskID(), ExpirePendingPaymentsTask.HandleExecution)
}

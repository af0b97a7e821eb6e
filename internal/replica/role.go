// Пакет replica — защита данных relay-bot от нескольких экземпляров.
//
// Журналы бота (пользователи, баны, история) загружаются в память
// при старте и пишутся одним процессом; long polling Bot API также
// допускает только одного получателя. Несколько реплик на общем томе
// работают по схеме leader/standby: leader владеет директорией данных
// и обрабатывает обновления, standby ждёт освобождения блокировки.
package replica

// Role — роль экземпляра relay-bot.
type Role string

const (
	// RoleLeader — экземпляр владеет директорией данных.
	RoleLeader Role = "leader"
	// RoleStandby — экземпляр ждёт освобождения блокировки.
	RoleStandby Role = "standby"
)

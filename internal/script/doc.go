// Package script выполняет пользовательские скрипты SCRIPT узлов.
//
// Скрипты пишутся на JavaScript и исполняются в otto. Скрипту
// доступны только переменные контекста, логгер и чтение из
// подключений через db.query.
package script

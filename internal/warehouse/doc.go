// Package warehouse реализует доступ к внешним базам PostgreSQL,
// между которыми синхронизируются данные.
//
// Directory по ID подключения открывает пул *sql.DB (драйвер pgx
// через database/sql) и выдаёт выделенные подключения Conn.
// Conn читает источник серверным курсором, создаёт и расширяет
// целевые таблицы и загружает батчи многострочным INSERT
// с ON CONFLICT.
//
// Ошибки записи классифицируются: deadlock (40P01) и таймаут
// блокировки (55P03) — domain.ErrTransientWrite, остальные —
// domain.ErrPermanentWrite.
package warehouse

// Package interpreter выполняет endpoint flow.
//
// Граф (ENTRY → AUTH → QUERY → SCRIPT → OUTPUT) обходится в порядке
// зависимостей, узлы разделяют один контекст выполнения:
//   - QUERY кладёт строки в queryResult
//   - SCRIPT кладёт результат в scriptResult
//   - OUTPUT формирует ответ из них
//
// Endpoints связывает flow с маршрутом /invoke/{path}.
package interpreter

// Package engine содержит модель графа flow.
//
// Включает:
//   - graph.go    — разбор графа из JSON редактора, индекс узлов, рёбра
//   - parser.go   — извлечение и валидация определения синхронизации
//   - template.go — подстановка ${var} из контекста выполнения
//
// Engine отвечает за понимание структуры flow. Выполнение графа
// делают interpreter (endpoint flows) и pipeline (sync flows).
package engine

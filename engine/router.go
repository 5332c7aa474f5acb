package engine

import "github.com/BaSui01/taskengine/task"

// typeAffinity 任务类别到后端的偏好顺序
var typeAffinity = map[task.Type][]string{
	task.TypeAnalysis:      {task.EngineGemini, task.EngineClaude, task.EngineCodex},
	task.TypeGeneration:    {task.EngineClaude, task.EngineCodex, task.EngineGemini},
	task.TypeReview:        {task.EngineClaude, task.EngineGemini, task.EngineCodex},
	task.TypeRefactor:      {task.EngineCodex, task.EngineClaude, task.EngineGemini},
	task.TypeDebug:         {task.EngineCodex, task.EngineClaude, task.EngineGemini},
	task.TypeResearch:      {task.EngineGemini, task.EngineClaude, task.EngineCodex},
	task.TypeDocumentation: {task.EngineClaude, task.EngineGemini, task.EngineCodex},
	task.TypeTesting:       {task.EngineCodex, task.EngineClaude, task.EngineGemini},
	task.TypeGeneral:       {task.EngineClaude, task.EngineGemini, task.EngineCodex},
}

// EstimateEngine 为 auto 任务选择后端
// 按类别偏好挑选第一个已注册的后端，都未注册时退回第一个注册的后端。
func EstimateEngine(taskType task.Type, registered []string) string {
	if len(registered) == 0 {
		return ""
	}
	for _, preferred := range typeAffinity[taskType] {
		for _, name := range registered {
			if name == preferred {
				return name
			}
		}
	}
	return registered[0]
}

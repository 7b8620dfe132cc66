package jobs

import (
	"gorm.io/datatypes"

	types "github.com/yungbote/postsecret-pipeline/internal/domain"
)

func datatypesSettings(batch, step int) datatypes.JSONType[types.JobSettings] {
	return datatypes.NewJSONType(types.JobSettings{BatchSize: batch, MaxStepSeconds: step})
}

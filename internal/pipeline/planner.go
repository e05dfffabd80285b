package pipeline

import (
	"intranet-assistant-go/internal/model"
	"sort"
)

// RetainedChunk 是被重写 URL 中内容未变的分块，沿用库中已有的向量，无需重新向量化。
type RetainedChunk struct {
	Chunk  model.Chunk
	Vector []float32
}

// SyncPlan 是一次抓取与库中现有记录比对后得到的同步计划，只在单次处理中存在。
type SyncPlan struct {
	PrimaryURL string
	// ToInsert 是库中不存在 (所属 URL, 指纹) 的新分块，需要向量化。
	ToInsert []model.Chunk
	// ToRetain 是被重写 URL 下未变的分块，随新分块一起重新写入。
	ToRetain []RetainedChunk
	// ToDeleteURLs 是需要整体清空的所属 URL：主 URL、被重写的文件 URL 与不再被链接的孤儿 URL。
	ToDeleteURLs []string
	// Orphaned 是库中存在但本次抓取未产出的所属 URL。
	Orphaned []string
	// Stale 是参与比较、但本次未产出的旧记录，包括孤儿 URL 的全部记录。
	Stale []model.IndexRecord
}

// NoUpdate 表示没有任何新分块，此时不应调用 IndexWriter；Stale 仍需单独删除。
func (p SyncPlan) NoUpdate() bool {
	return len(p.ToInsert) == 0
}

// PlanSync 比较本次抓取的分块（主页面及其链接文件）与库中现有记录，计算最小的新增与删除集合。
// existing 中参与比较的记录：所属 URL 为 primaryURL、source_url 为 primaryURL，
// 或所属 URL 是本次产出的文件（文件可能由其他页面写入）。
// 匹配严格按 (所属 URL, 指纹) 进行。
func PlanSync(primaryURL string, chunks []model.Chunk, existing []model.IndexRecord) SyncPlan {
	plan := SyncPlan{PrimaryURL: primaryURL}

	producedOwners := make(map[string]bool)
	for _, c := range chunks {
		producedOwners[c.ParentURL] = true
	}

	// 1. 按所属 URL 对现有记录分区
	stored := make(map[string]map[string]model.IndexRecord)
	for _, r := range existing {
		owner := r.OwnerURL()
		if owner != primaryURL && r.Payload.Metadata.SourceURL != primaryURL && !producedOwners[owner] {
			continue
		}
		if stored[owner] == nil {
			stored[owner] = make(map[string]model.IndexRecord)
		}
		stored[owner][r.ID] = r
	}

	// 2. 逐个分块判断是否已存在
	produced := make(map[string]map[string]bool)
	rewrite := make(map[string]bool)
	var unchanged []model.Chunk
	for _, c := range chunks {
		if produced[c.ParentURL] == nil {
			produced[c.ParentURL] = make(map[string]bool)
		}
		if produced[c.ParentURL][c.Fingerprint] {
			// 同一文档内重复的文本只保留第一次出现
			continue
		}
		produced[c.ParentURL][c.Fingerprint] = true

		if _, ok := stored[c.ParentURL][c.Fingerprint]; ok {
			unchanged = append(unchanged, c)
			continue
		}
		plan.ToInsert = append(plan.ToInsert, c)
		rewrite[c.ParentURL] = true
	}

	// 3. 库中存在、但本次未产出的 URL 视为孤儿
	for owner := range stored {
		if _, ok := produced[owner]; !ok {
			plan.Orphaned = append(plan.Orphaned, owner)
		}
	}
	sort.Strings(plan.Orphaned)

	// 主 URL 总是整体覆盖
	rewrite[primaryURL] = true
	deleteSet := make(map[string]bool, len(rewrite)+len(plan.Orphaned))
	for owner := range rewrite {
		deleteSet[owner] = true
	}
	for _, owner := range plan.Orphaned {
		deleteSet[owner] = true
	}
	for owner := range deleteSet {
		plan.ToDeleteURLs = append(plan.ToDeleteURLs, owner)
	}
	sort.Strings(plan.ToDeleteURLs)

	// 4. 本次未产出的记录一律过期，与是否有新分块无关。
	// 上次写入中途失败时，新分块已在库中而旧分块未删除，重试时靠这里清理。
	for owner, records := range stored {
		for fp, r := range records {
			if !produced[owner][fp] {
				plan.Stale = append(plan.Stale, r)
			}
		}
	}
	sortRecords(plan.Stale)

	if plan.NoUpdate() {
		return plan
	}
	for _, c := range unchanged {
		if rewrite[c.ParentURL] {
			plan.ToRetain = append(plan.ToRetain, RetainedChunk{
				Chunk:  c,
				Vector: stored[c.ParentURL][c.Fingerprint].Vector,
			})
		}
	}
	return plan
}

func sortRecords(records []model.IndexRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key() < records[j].Key()
	})
}

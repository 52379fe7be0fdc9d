package exclusion

import "context"

type Repository interface {
	Exists(ctx context.Context, code Code) (bool, error)
	Insert(ctx context.Context, code Code) (*ExcludedCode, error)
	Delete(ctx context.Context, code Code) (int64, error)
	List(ctx context.Context) ([]*ExcludedCode, error)
}

// VocabularyRepository answers whether a code value exists in the code table.
type VocabularyRepository interface {
	CodeExists(ctx context.Context, value string) (bool, error)
}

package archive

import (
	"context"

	"pglo/internal/catalog"
	"pglo/internal/largeobject"
	"pglo/internal/storage"
)

type Summary struct {
	Objects  int
	Exported int
	Failed   int
	Bytes    int64
	Exports  []catalog.Export
}

type ObjectLister interface {
	ListObjects(context.Context) ([]catalog.ObjectInfo, error)
}

type ExportRecorder interface {
	RecordExport(context.Context, largeobject.OID, storage.Object) (catalog.Export, error)
}

type objectExporter interface {
	Export(context.Context, largeobject.OID) (catalog.Export, error)
}

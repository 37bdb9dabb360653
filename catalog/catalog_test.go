package catalog

import (
	"context"
	"errors"
	"io"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/types"
)

type fakeSource struct {
	info  *types.VideoInfo
	err   error
	calls int
}

func (f *fakeSource) Resolve(ctx context.Context, url string) (*types.VideoInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeSource) Open(ctx context.Context, info *types.VideoInfo, s types.Stream) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("not used")
}

func video(label string, size int64) types.Stream {
	return types.Stream{Quality: label, MimeType: "video/mp4", Adaptive: true, Size: size}
}

func TestDescribe(t *testing.T) {
	Convey("Describe", t, func() {
		src := &fakeSource{info: &types.VideoInfo{
			Title:        "Clip",
			ThumbnailURL: "https://i.ytimg.com/vi/x/hq.jpg",
		}}
		cat := New(src)
		ctx := context.Background()

		Convey("Should reject an empty url before touching the source", func() {
			_, err := cat.Describe(ctx, "  ")
			e, ok := errs.As(err)
			So(ok, ShouldBeTrue)
			So(e.Code, ShouldEqual, errs.CodeInvalidInput)
			So(e.Message, ShouldEqual, "URL not provided")
			So(src.calls, ShouldEqual, 0)
		})

		Convey("Should wrap source failures with the raw message", func() {
			src.err = errors.New("regex_search: could not find match")
			_, err := cat.Describe(ctx, "https://valid/video")
			e, ok := errs.As(err)
			So(ok, ShouldBeTrue)
			So(e.Code, ShouldEqual, errs.CodeSourceUnavailable)
			So(e.Message, ShouldEqual, "regex_search: could not find match")
		})

		Convey("Should list allowed sizes for two resolutions", func() {
			src.info.Streams = []types.Stream{video("144p", 1<<20), video("720p", 5<<20)}
			md, err := cat.Describe(ctx, "https://valid/video")
			So(err, ShouldBeNil)
			So(md.Title, ShouldEqual, "Clip")
			So(md.ThumbnailURL, ShouldEqual, "https://i.ytimg.com/vi/x/hq.jpg")
			So(md.Resolutions, ShouldResemble, []string{"144p", "720p"})
			So(md.FileSize, ShouldResemble, map[string]string{"144p": "1.0M", "720p": "5.0M"})
		})

		Convey("Should sort numerically and not lexically", func() {
			src.info.Streams = []types.Stream{video("720p", 1), video("144p", 1), video("1080p", 1)}
			md, err := cat.Describe(ctx, "https://valid/video")
			So(err, ShouldBeNil)
			So(md.Resolutions, ShouldResemble, []string{"144p", "720p", "1080p"})
		})

		Convey("Should drop labels outside the allow-list and non video streams", func() {
			src.info.Streams = []types.Stream{
				video("4320p", 1),
				video("720p60", 1),
				video("360p", 2048),
				{Quality: "480p", MimeType: "video/mp4", Adaptive: false, Size: 1},
				{Quality: "240p", MimeType: "audio/mp4", Adaptive: true, Size: 1},
			}
			md, err := cat.Describe(ctx, "https://valid/video")
			So(err, ShouldBeNil)
			So(md.Resolutions, ShouldResemble, []string{"360p"})
			So(md.FileSize, ShouldResemble, map[string]string{"360p": "2.0K"})
		})

		Convey("Should keep the size of the last stream per label", func() {
			src.info.Streams = []types.Stream{video("720p", 1<<20), video("720p", 10905190)}
			md, err := cat.Describe(ctx, "https://valid/video")
			So(err, ShouldBeNil)
			So(md.Resolutions, ShouldResemble, []string{"720p"})
			So(md.FileSize["720p"], ShouldEqual, "10.4M")
		})

		Convey("Should return empty collections when nothing qualifies", func() {
			md, err := cat.Describe(ctx, "https://valid/video")
			So(err, ShouldBeNil)
			So(md.Resolutions, ShouldNotBeNil)
			So(md.Resolutions, ShouldBeEmpty)
			So(md.FileSize, ShouldBeEmpty)
		})

		Convey("Should resolve again on every call", func() {
			_, _ = cat.Describe(ctx, "https://valid/video")
			_, _ = cat.Describe(ctx, "https://valid/video")
			So(src.calls, ShouldEqual, 2)
		})
	})
}

func TestSelect(t *testing.T) {
	Convey("Select", t, func() {
		first := video("720p", 1)
		first.Itag = 136
		second := video("720p", 2)
		second.Itag = 247
		progressive := types.Stream{Itag: 22, Quality: "720p", MimeType: "video/mp4"}
		streams := []types.Stream{progressive, first, second}

		Convey("Should return the first adaptive video match", func() {
			s, ok := Select(streams, "720p")
			So(ok, ShouldBeTrue)
			So(s.Itag, ShouldEqual, 136)
		})

		Convey("Should require an exact label", func() {
			_, ok := Select(streams, "720")
			So(ok, ShouldBeFalse)
		})

		Convey("Should report a miss for absent labels", func() {
			_, ok := Select(streams, "1080p")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestHumanSize(t *testing.T) {
	Convey("HumanSize", t, func() {
		So(HumanSize(0), ShouldEqual, "0B")
		So(HumanSize(512), ShouldEqual, "512B")
		So(HumanSize(1024), ShouldEqual, "1.0K")
		So(HumanSize(1536), ShouldEqual, "1.5K")
		So(HumanSize(1048576), ShouldEqual, "1.0M")
		So(HumanSize(10905190), ShouldEqual, "10.4M")
		So(HumanSize(3<<30), ShouldEqual, "3.0G")
		So(HumanSize(-5), ShouldEqual, "0B")

		Convey("Carries into the next unit when rounding reaches 1024", func() {
			So(HumanSize(1048575), ShouldEqual, "1.0M")
			So(HumanSize(1048525), ShouldEqual, "1.0M")
			So(HumanSize(1048524), ShouldEqual, "1023.9K")
			So(HumanSize(1048473), ShouldEqual, "1023.9K")
			So(HumanSize(1<<30-1), ShouldEqual, "1.0G")
			So(HumanSize(1023), ShouldEqual, "1023B")
		})
	})
}

func TestLabelHeight(t *testing.T) {
	Convey("LabelHeight", t, func() {
		So(LabelHeight("1080p"), ShouldEqual, 1080)
		So(LabelHeight("144p"), ShouldEqual, 144)
		So(LabelHeight("auto"), ShouldEqual, 0)
	})
}

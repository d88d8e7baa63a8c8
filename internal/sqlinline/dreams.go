package sqlinline

const QCountDreamsByUser = `--sql f5ab7453-b9e2-4477-83ba-b357433ad514
select count(*)
from dreams
where user_id = $1::uuid;
`

// QSelectDreamHistory returns the newest $2 dreams; callers reverse them.
const QSelectDreamHistory = `--sql 2ba3eda4-c778-4af8-b1ea-43f58271db60
select id::text, description, coalesce(response, ''), coalesce(image_url, ''), created_at
from dreams
where user_id = $1::uuid
order by created_at desc
limit $2;
`

const QInsertDream = `--sql d10020ea-53bb-4162-be6c-a4ce899ec186
insert into dreams (id, user_id, description, response, image_url, created_at)
values (gen_random_uuid(), $1::uuid, $2, $3, nullif($4, ''), now())
returning id::text, created_at;
`
